// Package avdecc implements an IEEE 1722.1 AVDECC controller stack:
// discovery (ADP), enumeration and control (AECP, with the AEM, Address
// Access and Milan Vendor Unique dialects) and connection management
// (ACMP) over raw Ethernet (EtherType 0x22F0).
//
// A Controller binds one network interface and exposes the discovered
// entities, a typed asynchronous command API and delegate callbacks for
// unsolicited traffic.
//
// Example:
//
//	options := avdecc.NewOptions()
//	options.InterfaceName = "eth0"
//	options.EntityID = 0x0011223344550002
//
//	controller, err := avdecc.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer controller.Kill()
//
//	controller.OnEntityOnline(func(e entity.DiscoveredEntity) {
//	    fmt.Printf("online: %s\n", e.EntityID)
//	})
//
//	controller.DiscoverRemoteEntities()
package avdecc
