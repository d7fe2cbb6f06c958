package quic

import (
	"fmt"
	"net"
)

// PacketResult reports how the engine consumed a datagram.
type PacketResult int

const (
	// PacketProcessed means an existing or new connection took the packet.
	PacketProcessed PacketResult = 0

	// PacketNotForConnection means the packet was handled without a
	// connection, e.g. a stateless reset or version negotiation.
	PacketNotForConnection PacketResult = 1
)

func (r PacketResult) String() string {
	switch r {
	case PacketProcessed:
		return "processed"
	case PacketNotForConnection:
		return "not for connection"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// OutSpec is one packet the engine wants sent.
// Data is only valid for the duration of the PacketsOut call.
type OutSpec struct {
	Dest net.Addr
	Data []byte
}

// PacketsOut is called by the engine with packets to send.
// It returns how many specs were accepted.
type PacketsOut func(specs []OutSpec) int
