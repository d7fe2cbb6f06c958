package quicgo

import (
	"context"
	"io"
	"sync"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

// readChunkSize is the size of a single blocking read from quic-go.
const readChunkSize = 16 << 10

var _ quic.Stream = (*streamWrapper)(nil)

// streamWrapper bridges a blocking quic-go stream to the non-blocking
// quic.Stream contract. A reader goroutine fills rx one chunk at a time and
// a writer goroutine drains tx; the handler only touches the buffers.
type streamWrapper struct {
	engine *Engine
	conn   *connWrapper
	stream *quicgo_quicgo.Stream
	window int

	rxDrained chan struct{}
	txReady   chan struct{}

	mu sync.Mutex

	rx     []byte
	rxErr  error
	rxDone bool

	tx       []byte
	inflight int
	txErr    error
	txDone   bool

	readShut  bool
	writeShut bool

	wantRead  bool
	wantWrite bool

	// announced is set once OnNewStream ran; readiness is held back until then.
	announced bool
	// queued is guarded by engine.mu.
	queued bool

	closeOnce sync.Once
}

func newStreamWrapper(engine *Engine, conn *connWrapper, stream *quicgo_quicgo.Stream) *streamWrapper {
	return &streamWrapper{
		engine:    engine,
		conn:      conn,
		stream:    stream,
		window:    engine.config.sendWindow(),
		rxDrained: make(chan struct{}, 1),
		txReady:   make(chan struct{}, 1),
	}
}

func (s *streamWrapper) StreamID() quic.StreamID {
	return quic.StreamID(s.stream.StreamID())
}

func (s *streamWrapper) Connection() quic.Connection {
	return s.conn
}

func (s *streamWrapper) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rx) > 0 {
		n := copy(p, s.rx)
		s.rx = s.rx[n:]
		if len(s.rx) == 0 {
			s.rx = nil
			signal(s.rxDrained)
		}
		return n, nil
	}

	if s.readShut {
		return 0, io.EOF
	}

	if s.rxErr != nil {
		return 0, s.rxErr
	}

	return 0, quic.ErrWouldBlock
}

func (s *streamWrapper) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeShut {
		return 0, quic.ErrWriteShutdown
	}
	if s.txErr != nil {
		return 0, s.txErr
	}

	n := min(len(p), s.window-len(s.tx)-s.inflight)
	if n <= 0 {
		return 0, nil
	}

	s.tx = append(s.tx, p[:n]...)
	signal(s.txReady)

	return n, nil
}

func (s *streamWrapper) WantRead(want bool) {
	s.mu.Lock()
	s.wantRead = want
	s.mu.Unlock()

	if want {
		s.engine.markReady(s, false)
	}
}

func (s *streamWrapper) WantWrite(want bool) {
	s.mu.Lock()
	s.wantWrite = want
	s.mu.Unlock()

	if want {
		s.engine.markReady(s, false)
	}
}

func (s *streamWrapper) Shutdown(dir quic.ShutdownDirection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if (dir == quic.ShutdownRead || dir == quic.ShutdownBoth) && !s.readShut {
		s.readShut = true
		s.wantRead = false
		s.rx = nil
		signal(s.rxDrained)
		s.stream.CancelRead(quicgo_quicgo.StreamErrorCode(quic.NoError))
	}

	if (dir == quic.ShutdownWrite || dir == quic.ShutdownBoth) && !s.writeShut {
		s.writeShut = true
		// Wake the writer so it closes the stream once tx is flushed.
		signal(s.txReady)
	}

	return nil
}

// readable and writable must be called with s.mu held.
func (s *streamWrapper) readable() bool {
	return s.wantRead && !s.readShut && (len(s.rx) > 0 || s.rxErr != nil)
}

func (s *streamWrapper) writable() bool {
	if !s.wantWrite || s.writeShut {
		return false
	}
	return s.txErr != nil || len(s.tx)+s.inflight < s.window
}

// dispatch runs the handler callbacks the stream is ready for and reports
// whether it is still ready afterwards.
func (s *streamWrapper) dispatch(h quic.StreamHandler) bool {
	s.mu.Lock()
	if !s.announced {
		s.mu.Unlock()
		return false
	}
	readable := s.readable()
	s.mu.Unlock()

	if readable {
		h.OnRead(s)
	}

	s.mu.Lock()
	writable := s.writable()
	s.mu.Unlock()

	if writable {
		h.OnWrite(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readable() || s.writable()
}

func (s *streamWrapper) readLoop(ctx context.Context) {
	buf := make([]byte, readChunkSize)

	for {
		n, err := s.stream.Read(buf)

		s.mu.Lock()
		if !s.readShut {
			s.rx = append(s.rx, buf[:n]...)
		}
		if err != nil {
			s.rxErr = err
			s.rxDone = true
		}
		pending := len(s.rx) > 0
		s.mu.Unlock()

		s.engine.markReady(s, true)

		if err != nil {
			s.finish()
			return
		}

		if !pending {
			continue
		}

		// Hold the next read back until the handler drained this chunk.
		select {
		case <-s.rxDrained:
		case <-s.conn.conn.Context().Done():
		case <-ctx.Done():
			return
		}
	}
}

func (s *streamWrapper) writeLoop(ctx context.Context) {
	defer s.conn.writers.Done()
	defer s.finish()

	for {
		select {
		case <-s.txReady:
		case <-s.conn.conn.Context().Done():
			s.failWrite(context.Cause(s.conn.conn.Context()))
			return
		case <-ctx.Done():
			s.failWrite(quic.ErrEngineClosed)
			return
		}

		s.mu.Lock()
		chunk := s.tx
		s.tx = nil
		s.inflight = len(chunk)
		s.mu.Unlock()

		if len(chunk) > 0 {
			_, err := s.stream.Write(chunk)

			s.mu.Lock()
			s.inflight = 0
			s.mu.Unlock()

			if err != nil {
				s.failWrite(err)
				s.engine.markReady(s, true)
				return
			}
		}

		s.mu.Lock()
		done := s.writeShut && len(s.tx) == 0
		if done {
			s.txDone = true
		}
		s.mu.Unlock()

		if done {
			_ = s.stream.Close()
			return
		}

		s.engine.markReady(s, true)
	}
}

func (s *streamWrapper) failWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txErr == nil {
		s.txErr = err
	}
	s.txDone = true
}

// finish reports the stream as closed once both directions ended.
func (s *streamWrapper) finish() {
	s.mu.Lock()
	done := s.rxDone && s.txDone
	s.mu.Unlock()

	if !done {
		return
	}

	s.closeOnce.Do(func() {
		s.engine.post(func(h quic.StreamHandler) {
			h.OnClose(s)
		})
	})
}

// signal performs a non-blocking send on a one-slot channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
