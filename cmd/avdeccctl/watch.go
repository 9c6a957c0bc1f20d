package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opd-ai/avdecc"
	"github.com/opd-ai/avdecc/entity"
	"github.com/opd-ai/avdecc/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch entity arrivals, departures and stream connections until interrupted",
	Run:   runWatch,
}

func runWatch(cmd *cobra.Command, args []string) {
	controller := newController()
	defer controller.Kill()

	controller.OnEntityOnline(func(e entity.DiscoveredEntity) {
		fmt.Printf("online   %s  model=%s  mac=%s\n", e.EntityID, e.EntityModelID, e.MacAddress)
	})
	controller.OnEntityUpdate(func(e entity.DiscoveredEntity) {
		fmt.Printf("update   %s  gptp_gm=%s\n", e.EntityID, e.GptpGrandmasterID)
	})
	controller.OnEntityOffline(func(id protocol.UniqueIdentifier) {
		fmt.Printf("offline  %s\n", id)
	})
	controller.OnAcmpSniffed(func(ev avdecc.SniffedAcmpEvent) {
		fmt.Printf("acmp     type=%d talker=%s/%d listener=%s/%d count=%d status=%s\n",
			ev.MessageType,
			ev.TalkerStream.EntityID, ev.TalkerStream.StreamIndex,
			ev.ListenerStream.EntityID, ev.ListenerStream.StreamIndex,
			ev.ConnectionCount, ev.Status)
	})
	controller.OnTransportError(func(err error) {
		exitWithError("transport lost", err)
	})

	if err := controller.DiscoverRemoteEntities(); err != nil {
		exitWithError("sending discover", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	fmt.Println("stopping")
}
