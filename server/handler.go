package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/OkutaniDaichi0106/quicfeed/stream"
)

// readChunkSize bounds a single read from a stream. Clients are not
// expected to send anything.
const readChunkSize = 64

var _ quic.StreamHandler = (*streamHandler)(nil)

type connState struct {
	aborted bool
}

type streamState struct {
	// sent counts the bytes the engine accepted for this stream.
	sent int64

	// writeShut is set once the write side was shut down locally.
	writeShut bool
}

// streamHandler feeds streams from the engine side of a Pair.
// It runs on the loop goroutine only.
type streamHandler struct {
	view     stream.View
	maxBytes int64
	logger   *slog.Logger
	metrics  *Metrics

	conns   map[quic.Connection]*connState
	streams map[quic.Stream]*streamState
}

func newStreamHandler(view stream.View, config *StreamConfig, logger *slog.Logger, metrics *Metrics) *streamHandler {
	return &streamHandler{
		view:     view,
		maxBytes: config.maxBytesPerStream(),
		logger:   logger,
		metrics:  metrics,
		conns:    make(map[quic.Connection]*connState),
		streams:  make(map[quic.Stream]*streamState),
	}
}

func (h *streamHandler) OnNewConnection(conn quic.Connection) {
	h.conns[conn] = &connState{}
	h.metrics.ActiveConnections.Inc()

	h.logger.Info("creating a new connection", "remote_address", conn.RemoteAddr())
}

func (h *streamHandler) OnConnectionClosed(conn quic.Connection) {
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		h.metrics.ActiveConnections.Dec()
	}

	h.logger.Info("closed a connection", "remote_address", conn.RemoteAddr())
}

func (h *streamHandler) OnNewStream(s quic.Stream) {
	h.streams[s] = &streamState{}
	h.metrics.ActiveStreams.Inc()

	h.logger.Debug("accepted a new stream", "stream_id", s.StreamID())

	s.WantRead(true)
	s.WantWrite(true)
}

func (h *streamHandler) OnRead(s quic.Stream) {
	var buf [readChunkSize]byte

	n, err := s.Read(buf[:])
	if n > 0 {
		h.logger.Warn("received unexpected data on a stream",
			"stream_id", s.StreamID(),
			"bytes", n,
		)
		h.metrics.ReadAnomalies.Inc()
		h.view.Append(buf[:n])
	}

	switch {
	case err == nil, errors.Is(err, quic.ErrWouldBlock):
	case errors.Is(err, io.EOF):
		h.logger.Debug("read an EOF", "stream_id", s.StreamID())

		// The client is done sending. The stream keeps being fed until
		// maxBytes were sent, which finishes it and closes the connection.
		s.WantRead(false)
		if err := s.Shutdown(quic.ShutdownRead); err != nil {
			h.logger.Warn("failed to shut down a stream", "stream_id", s.StreamID(), "error", err)
		}
		s.WantWrite(true)
	default:
		h.abort(s, fmt.Errorf("failed to read from a stream: %w", err))
	}
}

func (h *streamHandler) OnWrite(s quic.Stream) {
	st := h.state(s)
	if st.writeShut {
		return
	}

	reader := h.view.Reader()
	if reader.Len() == 0 {
		return
	}

	n, err := reader.Drain(s.Write)
	if errors.Is(err, stream.ErrUnderflow) {
		panic(fmt.Sprintf("server: stream %d reported an invalid write count", s.StreamID()))
	}

	st.sent += int64(n)
	h.metrics.StreamBytesSent.Add(float64(n))

	if err != nil {
		h.abort(s, fmt.Errorf("failed to write to a stream: %w", err))
		return
	}

	if st.sent >= h.maxBytes && reader.Len() == 0 {
		h.logger.Info("finished writing to a stream",
			"stream_id", s.StreamID(),
			"bytes", st.sent,
		)

		h.shutdownWrite(s)
		h.metrics.ConnectionCloses.Inc()
		if err := s.Connection().Close(); err != nil {
			h.logger.Warn("failed to close a connection", "error", err)
		}
	}
}

func (h *streamHandler) OnClose(s quic.Stream) {
	if _, ok := h.streams[s]; ok {
		delete(h.streams, s)
		h.metrics.ActiveStreams.Dec()
	}

	h.logger.Debug("a stream has been closed", "stream_id", s.StreamID())
}

func (h *streamHandler) state(s quic.Stream) *streamState {
	st, ok := h.streams[s]
	if !ok {
		st = &streamState{}
		h.streams[s] = st
		h.metrics.ActiveStreams.Inc()
	}
	return st
}

func (h *streamHandler) shutdownWrite(s quic.Stream) {
	st := h.state(s)
	if st.writeShut {
		return
	}
	st.writeShut = true

	if err := s.Shutdown(quic.ShutdownWrite); err != nil {
		h.logger.Warn("failed to shut down a stream", "stream_id", s.StreamID(), "error", err)
	}
}

// abort aborts the connection of s unless it was aborted already.
func (h *streamHandler) abort(s quic.Stream, err error) {
	conn := s.Connection()

	cs, ok := h.conns[conn]
	if !ok {
		cs = &connState{}
		h.conns[conn] = cs
		h.metrics.ActiveConnections.Inc()
	}
	if cs.aborted {
		return
	}
	cs.aborted = true

	h.logger.Error("aborting the connection",
		"remote_address", conn.RemoteAddr(),
		"stream_id", s.StreamID(),
		"error", err,
	)
	h.metrics.ConnectionAborts.Inc()

	if err := conn.Abort(); err != nil {
		h.logger.Warn("failed to abort a connection", "error", err)
	}
}
