package quicgo

import (
	"context"
	"errors"
	"net"

	quicgo_quicgo "github.com/quic-go/quic-go"
)

var (
	errReceiveQueueFull = errors.New("quicgo: receive queue full")
	errNoTLSProvider    = errors.New("quicgo: no TLS provider")
	errNoHandler        = errors.New("quicgo: no stream handler")
	errNoPacketsOut     = errors.New("quicgo: no packets out function")
)

// closeReason classifies the error a quic-go connection ended with.
func closeReason(err error) string {
	if err == nil {
		return "none"
	}

	switch e := err.(type) {
	case *quicgo_quicgo.ApplicationError:
		if e.Remote {
			return "remote_application"
		}
		return "local_application"
	case *quicgo_quicgo.TransportError:
		if e.Remote {
			return "remote_transport"
		}
		return "local_transport"
	case *quicgo_quicgo.IdleTimeoutError:
		return "idle_timeout"
	case *quicgo_quicgo.HandshakeTimeoutError:
		return "handshake_timeout"
	case *quicgo_quicgo.StatelessResetError:
		return "stateless_reset"
	case *quicgo_quicgo.VersionNegotiationError:
		return "version_negotiation"
	}

	switch {
	case errors.Is(err, quicgo_quicgo.ErrServerClosed), errors.Is(err, net.ErrClosed):
		return "engine_closed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
