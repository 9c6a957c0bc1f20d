package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/avdecc"
	"github.com/opd-ai/avdecc/protocol"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover AVDECC entities on the interface and list them",
	Run:   runDiscover,
}

func newController() *avdecc.Controller {
	if interfaceName == "" {
		exitWithError("no interface given (use --interface or config)", nil)
	}
	if entityID == 0 {
		exitWithError("no controller entity id given (use --entity-id or config)", nil)
	}

	options := avdecc.NewOptions()
	options.InterfaceName = interfaceName
	options.EntityID = protocol.UniqueIdentifier(entityID)

	controller, err := avdecc.New(options)
	if err != nil {
		exitWithError("starting controller", err)
	}
	return controller
}

func runDiscover(cmd *cobra.Command, args []string) {
	controller := newController()
	defer controller.Kill()

	if err := controller.DiscoverRemoteEntities(); err != nil {
		exitWithError("sending discover", err)
	}
	time.Sleep(time.Duration(viper.GetInt("discover.wait_seconds")) * time.Second)

	entities := controller.GetDiscoveredEntities()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY ID\tMODEL ID\tMAC\tTALKERS\tLISTENERS\tGPTP GM")
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.EntityID, e.EntityModelID, e.MacAddress,
			e.TalkerStreamSources, e.ListenerStreamSinks, e.GptpGrandmasterID)
	}
	w.Flush()
	fmt.Printf("%d entities\n", len(entities))
}
