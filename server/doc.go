// Package server runs the per-shard loops of the QUIC feed server.
//
// A Loop owns one UDP socket, one engine and one timer. It hands every
// received datagram to the engine, ticks the engine and rearms the timer
// for the engine's next deadline. Outgoing packets go through an
// EgressQueue that sends them in order without ever blocking the engine.
//
// The streams of every shard are fed from one shared stream.Pair: the
// engine side drains the outbound accumulator into QUIC streams while a
// Producer appends payload through the application side.
package server
