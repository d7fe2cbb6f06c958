package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/internal/bufpool"
	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/OkutaniDaichi0106/quicfeed/stream"
)

// MaxDatagramSize is the largest datagram the loop hands to the engine.
// Larger datagrams are dropped.
const MaxDatagramSize = 1500

// One spare byte tells an oversized datagram apart from a full one.
var datagramPool = bufpool.New(MaxDatagramSize + 1)

var (
	errNoEngineFactory = errors.New("server: no engine factory")
	errNoTLSProvider   = errors.New("server: no TLS provider")
	errNoPair          = errors.New("server: no stream pair")
)

// LoopState is the timer state of a Loop.
type LoopState int32

const (
	// StateIdle means no timer is armed.
	StateIdle LoopState = iota
	// StateTickScheduled means the timer is armed for the next tick.
	StateTickScheduled
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTickScheduled:
		return "tick_scheduled"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Config *Config

	// NewEngine creates the loop's engine.
	NewEngine quic.EngineFactory

	// TLS is handed to the engine.
	TLS quic.TLSProvider

	// OnEgressError observes packets that could not be sent.
	OnEgressError func(dest net.Addr, err error)

	/*
	 * Logger
	 */
	Logger *slog.Logger

	Metrics *Metrics
}

type datagram struct {
	buf  *[]byte
	n    int
	peer net.Addr
}

// Loop drives one engine from one UDP socket.
//
// Datagrams are handed to the engine in arrival order. After every datagram
// and every timer fire the engine is ticked and the timer is rearmed for
// the engine's next deadline, or left unarmed when it has none.
type Loop struct {
	conn     net.PacketConn
	engine   quic.Engine
	egress   *EgressQueue
	handler  *streamHandler
	producer *Producer
	config   *Config
	logger   *slog.Logger
	metrics  *Metrics

	timer  *time.Timer
	notify <-chan struct{}
	state  atomic.Int32

	datagrams chan datagram
	readErr   error
	readDone  chan struct{}

	serving   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewLoop creates the loop of conn and its engine. The engine side of pair
// feeds the streams and the application side is driven by a Producer.
func NewLoop(conn net.PacketConn, pair *stream.Pair, opts LoopOptions) (*Loop, error) {
	if pair == nil {
		return nil, errNoPair
	}
	if opts.NewEngine == nil {
		return nil, errNoEngineFactory
	}
	if opts.TLS == nil {
		return nil, errNoTLSProvider
	}

	config := opts.Config
	if config == nil {
		config = &Config{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("local_address", conn.LocalAddr())

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	producer, err := NewProducer(pair.Reversed(), &config.Stream, metrics)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		conn:      conn,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		datagrams: make(chan datagram),
		readDone:  make(chan struct{}),
	}

	l.egress = NewEgressQueue(conn, EgressOptions{
		Size:    config.Egress.queueSize(),
		OnError: opts.OnEgressError,
		Logger:  logger,
		Metrics: metrics,
	})

	l.handler = newStreamHandler(pair.View(), &config.Stream, logger, metrics)
	l.producer = producer

	engine, err := opts.NewEngine(quic.EngineParams{
		Local:      conn.LocalAddr(),
		Handler:    l.handler,
		PacketsOut: l.egress.PacketsOut,
		TLS:        opts.TLS,
		Logger:     logger,
	})
	if err != nil {
		_ = l.egress.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	l.engine = engine

	if n, ok := engine.(quic.Notifier); ok {
		l.notify = n.Notify()
	}

	l.timer = time.NewTimer(time.Hour)
	l.timer.Stop()

	return l, nil
}

// State returns the current timer state.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// LocalAddr returns the address of the loop's socket.
func (l *Loop) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve runs the loop until ctx is done or the socket fails.
// It returns nil when ctx ended the loop.
func (l *Loop) Serve(ctx context.Context) error {
	if !l.serving.CompareAndSwap(false, true) {
		return errors.New("server: loop already serving")
	}

	// Unblock the reader when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	go l.receive(ctx)

	l.logger.Info("loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped")
			return nil
		case d, ok := <-l.datagrams:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to receive datagram: %w", l.readErr)
			}
			l.handleReceive(d)
		case <-l.timer.C:
			l.processConnections()
		case <-l.notify:
			l.processConnections()
		}
	}
}

// receive reads datagrams until the socket fails or ctx ends.
func (l *Loop) receive(ctx context.Context) {
	defer close(l.readDone)
	defer close(l.datagrams)

	for {
		buf := datagramPool.Get()

		n, peer, err := l.conn.ReadFrom(*buf)
		if err != nil {
			datagramPool.Put(buf)

			if ctx.Err() != nil {
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			l.readErr = err
			return
		}

		select {
		case l.datagrams <- datagram{buf: buf, n: n, peer: peer}:
		case <-ctx.Done():
			datagramPool.Put(buf)
			return
		}
	}
}

func (l *Loop) handleReceive(d datagram) {
	defer datagramPool.Put(d.buf)

	l.metrics.DatagramsReceived.Inc()

	if d.n > MaxDatagramSize {
		l.logger.Warn("dropping oversized datagram",
			"remote_address", d.peer,
			"max_size", MaxDatagramSize,
		)
		l.metrics.DatagramsOversized.Inc()
		l.processConnections()
		return
	}

	l.producer.Step()

	result, err := l.engine.PacketIn((*d.buf)[:d.n], l.conn.LocalAddr(), d.peer)
	if err != nil {
		l.logger.Error("packet processing has failed",
			"remote_address", d.peer,
			"error", err,
		)
		l.metrics.EngineErrors.Inc()
	} else {
		l.metrics.PacketIn.WithLabelValues(result.String()).Inc()

		switch result {
		case quic.PacketProcessed:
			l.logger.Debug("packet processed by a connection", "remote_address", d.peer)
		case quic.PacketNotForConnection:
			l.logger.Debug("packet processed, but not by a connection", "remote_address", d.peer)
		default:
			l.logger.Error("packet processing has failed",
				"remote_address", d.peer,
				"result", result,
			)
			l.metrics.EngineErrors.Inc()
		}
	}

	l.processConnections()
}

// processConnections ticks the engine and rearms the timer for its next
// deadline.
func (l *Loop) processConnections() {
	l.metrics.Ticks.Inc()

	l.engine.ProcessConnections()

	delay, ok := l.engine.EarliestDeadline()
	if !ok {
		l.timer.Stop()
		l.state.Store(int32(StateIdle))
		return
	}

	delay = max(delay, l.config.Engine.clockGranularity())
	l.timer.Reset(delay)
	l.state.Store(int32(StateTickScheduled))
}

// Close releases the engine, the egress queue and the socket.
// It must not be called while Serve is running.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.timer.Stop()
		l.state.Store(int32(StateIdle))

		// The engine may still send close frames through the egress queue.
		err := l.engine.Close()
		_ = l.egress.Close()

		if cerr := l.conn.Close(); err == nil {
			err = cerr
		}

		if l.serving.Load() {
			<-l.readDone
		}

		l.closeErr = err
	})

	return l.closeErr
}
