package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/OkutaniDaichi0106/quicfeed/stream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTLS = quic.TLSProviderFunc(func(net.Addr) (*tls.Config, error) {
	return &tls.Config{MinVersion: tls.VersionTLS13}, nil
})

func newMockEngine() *MockEngine {
	engine := &MockEngine{}
	engine.On("ProcessConnections").Maybe()
	engine.On("Close").Return(nil).Maybe()
	return engine
}

func newTestLoop(t *testing.T, engine quic.Engine, config *Config) *Loop {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	l, err := NewLoop(conn, stream.NewPair(), LoopOptions{
		Config:    config,
		NewEngine: mockEngineFactory(engine, nil),
		TLS:       testTLS,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })
	return l
}

// serveLoop runs l until the test ends and returns the channel Serve's
// result is delivered on.
func serveLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Serve(ctx)
	}()

	return cancel, errCh
}

func sendDatagram(t *testing.T, to net.Addr, p []byte) {
	t.Helper()

	client, err := net.Dial("udp", to.String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(p)
	require.NoError(t, err)
}

func ticks(l *Loop) float64 {
	return testutil.ToFloat64(l.metrics.Ticks)
}

func TestNewLoop(t *testing.T) {
	engineErr := errors.New("engine failed")

	tests := map[string]struct {
		pair    *stream.Pair
		opts    LoopOptions
		wantErr error
	}{
		"no pair": {
			pair:    nil,
			opts:    LoopOptions{NewEngine: mockEngineFactory(newMockEngine(), nil), TLS: testTLS},
			wantErr: errNoPair,
		},
		"no engine factory": {
			pair:    stream.NewPair(),
			opts:    LoopOptions{TLS: testTLS},
			wantErr: errNoEngineFactory,
		},
		"no tls provider": {
			pair:    stream.NewPair(),
			opts:    LoopOptions{NewEngine: mockEngineFactory(newMockEngine(), nil)},
			wantErr: errNoTLSProvider,
		},
		"engine factory fails": {
			pair: stream.NewPair(),
			opts: LoopOptions{
				NewEngine: func(quic.EngineParams) (quic.Engine, error) { return nil, engineErr },
				TLS:       testTLS,
			},
			wantErr: engineErr,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			conn, err := net.ListenPacket("udp", "127.0.0.1:0")
			require.NoError(t, err)
			defer conn.Close()

			l, err := NewLoop(conn, tt.pair, tt.opts)
			assert.Nil(t, l)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewLoop_EngineParams(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	var params quic.EngineParams
	l, err := NewLoop(conn, stream.NewPair(), LoopOptions{
		NewEngine: mockEngineFactory(newMockEngine(), &params),
		TLS:       testTLS,
	})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, conn.LocalAddr(), params.Local)
	assert.Equal(t, conn.LocalAddr(), l.LocalAddr())
	assert.NotNil(t, params.Handler)
	assert.NotNil(t, params.PacketsOut)
	assert.NotNil(t, params.Logger)
	assert.Equal(t, StateIdle, l.State())
}

func TestLoop_IdleUntilNextDatagram(t *testing.T) {
	engine := newMockEngine()
	engine.On("PacketIn", mock.Anything, mock.Anything, mock.Anything).Return(quic.PacketProcessed, nil)
	engine.On("EarliestDeadline").Return(time.Duration(0), false)

	l := newTestLoop(t, engine, nil)
	serveLoop(t, l)

	sendDatagram(t, l.LocalAddr(), []byte("first"))
	require.Eventually(t, func() bool { return ticks(l) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, l.State())

	// Nothing is pending, so nothing ticks until the next datagram.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, float64(1), ticks(l))

	sendDatagram(t, l.LocalAddr(), []byte("second"))
	require.Eventually(t, func() bool { return ticks(l) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, l.State())

	engine.AssertNumberOfCalls(t, "PacketIn", 2)
	engine.AssertNumberOfCalls(t, "ProcessConnections", 2)
}

func TestLoop_TimerTick(t *testing.T) {
	engine := newMockEngine()
	engine.On("PacketIn", mock.Anything, mock.Anything, mock.Anything).Return(quic.PacketProcessed, nil)
	engine.On("EarliestDeadline").Return(time.Duration(0), true).Once()
	engine.On("EarliestDeadline").Return(time.Duration(0), false)

	granularity := 100 * time.Millisecond
	l := newTestLoop(t, engine, &Config{Engine: EngineConfig{ClockGranularity: granularity}})
	serveLoop(t, l)

	start := time.Now()
	sendDatagram(t, l.LocalAddr(), []byte("hello"))

	require.Eventually(t, func() bool { return l.State() == StateTickScheduled }, time.Second, time.Millisecond)

	// The zero delay is raised to the clock granularity.
	require.Eventually(t, func() bool { return ticks(l) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), granularity)
	require.Eventually(t, func() bool { return l.State() == StateIdle }, time.Second, time.Millisecond)

	engine.AssertNumberOfCalls(t, "PacketIn", 1)
}

func TestLoop_PassesDatagram(t *testing.T) {
	received := make(chan []byte, 1)

	engine := newMockEngine()
	engine.PacketInFunc = func(p []byte, local, peer net.Addr) (quic.PacketResult, error) {
		received <- append([]byte(nil), p...)
		return quic.PacketNotForConnection, nil
	}
	engine.On("EarliestDeadline").Return(time.Duration(0), false)

	l := newTestLoop(t, engine, nil)
	serveLoop(t, l)

	sendDatagram(t, l.LocalAddr(), []byte("initial packet"))

	select {
	case p := <-received:
		assert.Equal(t, "initial packet", string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("datagram was not passed to the engine")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(l.metrics.PacketIn.WithLabelValues("not for connection")) == 1
	}, time.Second, 5*time.Millisecond)

	// Every datagram produces a chunk for the streams.
	assert.Equal(t, 0x1000, l.handler.view.Reader().Len())
}

func TestLoop_OversizedDatagram(t *testing.T) {
	var calls atomic.Int32

	engine := newMockEngine()
	engine.PacketInFunc = func(p []byte, local, peer net.Addr) (quic.PacketResult, error) {
		calls.Add(1)
		return quic.PacketProcessed, nil
	}
	engine.On("EarliestDeadline").Return(time.Duration(0), false)

	l := newTestLoop(t, engine, nil)
	serveLoop(t, l)

	sendDatagram(t, l.LocalAddr(), make([]byte, MaxDatagramSize+100))

	require.Eventually(t, func() bool { return ticks(l) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.DatagramsOversized))
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, l.handler.view.Reader().Len())

	sendDatagram(t, l.LocalAddr(), make([]byte, MaxDatagramSize))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestLoop_PacketInError(t *testing.T) {
	var calls atomic.Int32

	engine := newMockEngine()
	engine.PacketInFunc = func(p []byte, local, peer net.Addr) (quic.PacketResult, error) {
		if calls.Add(1) == 1 {
			return quic.PacketProcessed, errors.New("malformed packet")
		}
		return quic.PacketProcessed, nil
	}
	engine.On("EarliestDeadline").Return(time.Duration(0), false)

	l := newTestLoop(t, engine, nil)
	serveLoop(t, l)

	sendDatagram(t, l.LocalAddr(), []byte("bad"))
	sendDatagram(t, l.LocalAddr(), []byte("good"))

	require.Eventually(t, func() bool { return ticks(l) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.EngineErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.PacketIn.WithLabelValues("processed")))
}

type notifyingEngine struct {
	*MockEngine
	ch chan struct{}
}

func (e *notifyingEngine) Notify() <-chan struct{} {
	return e.ch
}

func TestLoop_Notify(t *testing.T) {
	mockEngine := newMockEngine()
	mockEngine.On("EarliestDeadline").Return(time.Duration(0), false)
	engine := &notifyingEngine{MockEngine: mockEngine, ch: make(chan struct{}, 1)}

	l := newTestLoop(t, engine, nil)
	serveLoop(t, l)

	engine.ch <- struct{}{}

	require.Eventually(t, func() bool { return ticks(l) == 1 }, 2*time.Second, 5*time.Millisecond)
	mockEngine.AssertNumberOfCalls(t, "ProcessConnections", 1)
	mockEngine.AssertNotCalled(t, "PacketIn", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoop_ServeStopsOnContext(t *testing.T) {
	engine := newMockEngine()

	l := newTestLoop(t, engine, nil)
	cancel, errCh := serveLoop(t, l)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Error(t, l.Serve(context.Background()))
}

func TestLoop_ServeSocketFailure(t *testing.T) {
	engine := newMockEngine()

	l := newTestLoop(t, engine, nil)
	_, errCh := serveLoop(t, l)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.conn.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the socket failed")
	}
}

func TestLoop_Close(t *testing.T) {
	engine := &MockEngine{}
	engine.On("Close").Return(nil).Once()

	l := newTestLoop(t, engine, nil)
	cancel, errCh := serveLoop(t, l)

	cancel()
	require.NoError(t, <-errCh)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	engine.AssertExpectations(t)
	assert.Equal(t, StateIdle, l.State())
}
