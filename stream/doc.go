// Package stream provides the buffers that carry one connection's
// application data between the QUIC engine and the application.
//
// # Components
//
//   - Accumulator: append-at-tail, consume-at-head byte buffer with forward-only offsets.
//   - Pair: the inbound and outbound accumulators of one logical stream.
//   - Writer, Reader, View: capability views over a Pair.
//
// Each side of a Pair gets a View. The engine side obtained from
// [Pair.View] writes what arrives from the network and drains what must be
// sent; the application side from [Pair.Reversed] sees the same two
// accumulators with the roles swapped. Because [Writer] has no read
// methods and [Reader] has no write methods, handing out the half a
// collaborator needs restricts it at compile time.
//
//	pair := stream.NewPair()
//	app := pair.Reversed()
//	app.Append([]byte("payload"))
//
//	engine := pair.View()
//	buf := make([]byte, 7)
//	_ = engine.Consume(buf) // "payload"
package stream
