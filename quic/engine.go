package quic

import (
	"log/slog"
	"net"
	"time"
)

// Engine is a QUIC protocol engine driven by a server loop.
type Engine interface {
	// PacketIn hands one received datagram to the engine.
	// The engine must not retain p after PacketIn returns.
	PacketIn(p []byte, local, peer net.Addr) (PacketResult, error)

	// ProcessConnections runs everything that is due. It may call the
	// StreamHandler and PacketsOut any number of times before returning.
	ProcessConnections()

	// EarliestDeadline reports how long until some connection needs
	// ProcessConnections again. ok is false when nothing is pending.
	EarliestDeadline() (delay time.Duration, ok bool)

	// Close tears the engine down.
	Close() error
}

// Notifier is implemented by engines that can become ready between
// PacketIn and ProcessConnections calls, for example because they run
// background goroutines. The channel is signalled when the loop should
// call ProcessConnections.
type Notifier interface {
	Notify() <-chan struct{}
}

// EngineParams carries what a loop provides to a new Engine.
type EngineParams struct {
	// Local is the address of the UDP socket the loop reads from.
	Local net.Addr

	// Handler receives connection and stream events.
	Handler StreamHandler

	// PacketsOut receives packets to send.
	PacketsOut PacketsOut

	// TLS supplies the TLS configuration for incoming connections.
	TLS TLSProvider

	/*
	 * Logger
	 */
	Logger *slog.Logger
}

// EngineFactory creates an Engine for one server loop.
type EngineFactory func(params EngineParams) (Engine, error)
