// Package knx owns the connection lifecycle to a KNX/IP gateway or bus
// interface (tunnel or multicast router; USB mode parses but always fails
// to connect), group-address telegram
// send/receive, and the standalone bus monitor shared with cmd/knxmon.
package knx

import (
	"time"

	"github.com/snapdog/snapdog/internal/dpt"
	"github.com/snapdog/snapdog/internal/knxaddr"
)

// APCI discriminates the three application-layer operations this package
// cares about; everything else observed on the bus is ignored.
type APCI int

const (
	APCIRead APCI = iota
	APCIWrite
	APCIResponse
)

func (a APCI) String() string {
	switch a {
	case APCIRead:
		return "Read"
	case APCIResponse:
		return "Response"
	default:
		return "Write"
	}
}

// GroupEvent is the inbound notification produced for every APDU the
// transport observes, whether or not the destination address is one the
// caller has subscribed to.
type GroupEvent struct {
	Source      string
	Destination knxaddr.Address
	APCI        APCI
	Raw         []byte
	Value       *dpt.Value // filled when a DPT is known (configured or detected)
	At          time.Time
}

// HasValue reports whether APDU carried a payload (a Write or Response),
// as opposed to a bare Read request.
func (e GroupEvent) HasValue() bool {
	return e.APCI != APCIRead
}
