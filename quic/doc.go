// Package quic defines the narrow contract between a server loop and a
// QUIC protocol engine.
//
// The engine owns the protocol state machine (handshake, loss recovery,
// congestion and flow control, stream multiplexing). The loop owns the UDP
// socket and the clock. They meet through a small set of event-style calls:
//
//   - Engine.PacketIn: the loop hands over one received datagram.
//   - Engine.ProcessConnections: the loop ticks the engine.
//   - Engine.EarliestDeadline: the engine tells the loop when to tick next.
//   - PacketsOut: the engine hands packets to the loop for sending.
//   - StreamHandler: the engine reports connection and stream events.
//
// Every call in both directions happens synchronously on the loop's
// goroutine and must not block.
//
// # Implementations
//
// The package includes a concrete engine built on quic-go:
//   - quicgo subpackage: adapts github.com/quic-go/quic-go to this contract
//
// # Basic Usage
//
//	engine, err := quicgo.NewEngine(quic.EngineParams{
//	    Local:      conn.LocalAddr(),
//	    Handler:    handler,
//	    PacketsOut: egress.PacketsOut,
//	    TLS:        provider,
//	}, &quicgo.Config{Linger: time.Second})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	result, err := engine.PacketIn(datagram, conn.LocalAddr(), peer)
//	engine.ProcessConnections()
//	if delay, ok := engine.EarliestDeadline(); ok {
//	    timer.Reset(delay)
//	}
//
// For more information about QUIC, see RFC 9000:
// https://datatracker.ietf.org/doc/html/rfc9000
package quic
