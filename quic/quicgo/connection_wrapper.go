package quicgo

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

var _ quic.Connection = (*connWrapper)(nil)

type connWrapper struct {
	engine *Engine
	conn   *quicgo_quicgo.Conn
	logger *slog.Logger

	// writers tracks the stream writer goroutines of this connection.
	// No writer is added once closing is set.
	writers sync.WaitGroup

	mu      sync.Mutex
	closing bool
}

func wrapConnection(engine *Engine, conn *quicgo_quicgo.Conn) *connWrapper {
	return &connWrapper{
		engine: engine,
		conn:   conn,
		logger: engine.logger.With("remote_address", conn.RemoteAddr()),
	}
}

func (wrapper *connWrapper) LocalAddr() net.Addr {
	return unwrapAddr(wrapper.conn.LocalAddr())
}

func (wrapper *connWrapper) RemoteAddr() net.Addr {
	return wrapper.conn.RemoteAddr()
}

// Close waits until every stream writer has flushed, then gives the peer
// until the linger timeout to close the connection itself before closing
// it with NoError.
func (wrapper *connWrapper) Close() error {
	if !wrapper.markClosing() {
		return nil
	}

	wrapper.engine.goAsync(func(ctx context.Context) {
		// deadline stays closed once the linger expired, so both waits see it.
		deadline := make(chan struct{})
		timer := time.AfterFunc(wrapper.engine.config.linger(), func() {
			close(deadline)
		})
		defer timer.Stop()

		flushed := make(chan struct{})
		go func() {
			wrapper.writers.Wait()
			close(flushed)
		}()

		select {
		case <-flushed:
		case <-wrapper.conn.Context().Done():
			return
		case <-deadline:
		case <-ctx.Done():
		}

		select {
		case <-wrapper.conn.Context().Done():
			return
		case <-deadline:
		case <-ctx.Done():
		}

		wrapper.logger.Debug("closing connection")
		_ = wrapper.conn.CloseWithError(quicgo_quicgo.ApplicationErrorCode(quic.NoError), "")
	})

	return nil
}

func (wrapper *connWrapper) Abort() error {
	wrapper.markClosing()
	return wrapper.conn.CloseWithError(quicgo_quicgo.ApplicationErrorCode(quic.InternalError), "aborted")
}

// markClosing reports whether this call moved the connection to closing.
func (wrapper *connWrapper) markClosing() bool {
	wrapper.mu.Lock()
	defer wrapper.mu.Unlock()

	if wrapper.closing {
		return false
	}
	wrapper.closing = true
	return true
}

// addWriter registers a stream writer unless the connection is closing.
func (wrapper *connWrapper) addWriter() bool {
	wrapper.mu.Lock()
	defer wrapper.mu.Unlock()

	if wrapper.closing {
		return false
	}
	wrapper.writers.Add(1)
	return true
}

// acceptStreams hands every incoming bidirectional stream to the engine.
func (wrapper *connWrapper) acceptStreams(ctx context.Context) {
	for {
		str, err := wrapper.conn.AcceptStream(ctx)
		if err != nil {
			wrapper.logger.Debug("stopped accepting streams",
				"reason", closeReason(context.Cause(wrapper.conn.Context())),
			)
			return
		}

		wrapper.engine.startStream(wrapper, str)
	}
}

// watch reports the end of the connection to the handler.
func (wrapper *connWrapper) watch(ctx context.Context) {
	select {
	case <-wrapper.conn.Context().Done():
	case <-ctx.Done():
		return
	}

	wrapper.logger.Debug("connection closed",
		"reason", closeReason(context.Cause(wrapper.conn.Context())),
	)

	wrapper.engine.post(func(h quic.StreamHandler) {
		h.OnConnectionClosed(wrapper)
	})
}
