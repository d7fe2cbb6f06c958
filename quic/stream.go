package quic

// StreamID uniquely identifies a stream within a QUIC connection.
type StreamID uint64

// ShutdownDirection selects which half of a stream Shutdown closes.
type ShutdownDirection int

const (
	ShutdownRead ShutdownDirection = iota
	ShutdownWrite
	ShutdownBoth
)

func (d ShutdownDirection) String() string {
	switch d {
	case ShutdownRead:
		return "read"
	case ShutdownWrite:
		return "write"
	case ShutdownBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Stream is the engine's handle on one bidirectional stream.
// None of its methods block.
type Stream interface {
	// StreamID returns the stream's unique identifier.
	StreamID() StreamID

	// Read copies received bytes into p.
	// It returns io.EOF once the peer finished its side and every byte was
	// read, and ErrWouldBlock when nothing is available yet.
	Read(p []byte) (int, error)

	// Write queues as many bytes of p as the engine accepts right now.
	// A short count with a nil error means the send window is full.
	Write(p []byte) (int, error)

	// WantRead enables or disables OnRead notifications.
	WantRead(bool)

	// WantWrite enables or disables OnWrite notifications.
	WantWrite(bool)

	// Shutdown closes one or both halves of the stream.
	// Bytes already accepted by Write are still delivered.
	Shutdown(ShutdownDirection) error

	// Connection returns the connection the stream belongs to.
	Connection() Connection
}

// StreamHandler receives connection and stream events from an Engine.
// All methods run on the loop's goroutine, inside PacketIn or
// ProcessConnections, and must not block.
type StreamHandler interface {
	OnNewConnection(conn Connection)
	OnConnectionClosed(conn Connection)

	OnNewStream(str Stream)
	OnRead(str Stream)
	OnWrite(str Stream)
	OnClose(str Stream)
}
