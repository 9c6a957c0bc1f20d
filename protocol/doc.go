// Package protocol implements the IEEE 1722.1 wire format for the three
// AVDECC control PDU families: ADP (discovery), AECP (enumeration and
// control, with the AEM, Address Access and Milan Vendor Unique dialects)
// and ACMP (connection management).
//
// Encoding and decoding are symmetric and bit-exact: for every frame F,
// Decode(Encode(F)) reproduces F including reserved fields, so sniffed
// third-party traffic can be re-emitted unchanged.
//
// Example:
//
//	pdu := &protocol.Adpdu{
//	    MessageType: protocol.AdpEntityAvailable,
//	    ValidTime:   62,
//	    EntityID:    entityID,
//	}
//
//	frame, err := pdu.Encode(protocol.MulticastIdentificationAddress, localMAC)
//	if err != nil {
//	    log.Fatal(err)
//	}
package protocol
