package quic

import (
	"net"
)

// Connection is the engine's handle on one QUIC connection.
type Connection interface {
	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Close closes the connection after queued stream data was flushed.
	Close() error

	// Abort closes the connection immediately with an application error.
	Abort() error
}
