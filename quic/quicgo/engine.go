package quicgo

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

var (
	_ quic.Engine   = (*Engine)(nil)
	_ quic.Notifier = (*Engine)(nil)
)

var engineID atomic.Uint64

// Engine runs quic-go on datagrams fed in by a server loop.
//
// quic-go works on its own goroutines. Everything they observe is queued
// and handed to the StreamHandler from ProcessConnections, so handler
// callbacks always run on the goroutine that drives the engine.
type Engine struct {
	params quic.EngineParams
	config *Config
	logger *slog.Logger

	conn      *packetConn
	transport *quicgo_quicgo.Transport
	listener  *quicgo_quicgo.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	events []func(quic.StreamHandler)
	ready  []*streamWrapper
	closed bool

	notifyCh chan struct{}
}

// NewEngine starts a quic-go server on a virtual packet conn bound to
// params.Local.
func NewEngine(params quic.EngineParams, config *Config) (*Engine, error) {
	if params.Handler == nil {
		return nil, errNoHandler
	}
	if params.PacketsOut == nil {
		return nil, errNoPacketsOut
	}
	if params.TLS == nil {
		return nil, errNoTLSProvider
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	id := engineID.Add(1)
	logger = logger.With("engine", id)

	e := &Engine{
		params:   params,
		config:   config.Clone(),
		logger:   logger,
		notifyCh: make(chan struct{}, 1),
	}

	local := engineAddr{Addr: params.Local, id: id}
	e.conn = newPacketConn(local, e.config.receiveQueue(), e.send)

	tlsConf, err := params.TLS.TLSConfig(params.Local)
	if err != nil {
		return nil, fmt.Errorf("quicgo: failed to get TLS config: %w", err)
	}

	e.transport = &quicgo_quicgo.Transport{Conn: e.conn}

	ln, err := e.transport.Listen(tlsConf, e.config.quicConfig())
	if err != nil {
		_ = e.conn.Close()
		return nil, fmt.Errorf("quicgo: failed to listen: %w", err)
	}
	e.listener = ln

	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.goAsync(e.acceptConnections)

	logger.Debug("engine started", "local_address", params.Local)

	return e, nil
}

// NewEngineFactory returns a quic.EngineFactory creating engines with config.
func NewEngineFactory(config *Config) quic.EngineFactory {
	config = config.Clone()
	return func(params quic.EngineParams) (quic.Engine, error) {
		return NewEngine(params, config)
	}
}

// PacketIn queues a datagram for quic-go.
// quic-go routes packets internally, so every accepted datagram is
// reported as PacketProcessed.
func (e *Engine) PacketIn(p []byte, local, peer net.Addr) (quic.PacketResult, error) {
	if e.isClosed() {
		return quic.PacketProcessed, quic.ErrEngineClosed
	}

	err := e.conn.deliver(p, peer)
	if err == net.ErrClosed {
		return quic.PacketProcessed, quic.ErrEngineClosed
	}
	if err != nil {
		return quic.PacketProcessed, err
	}

	return quic.PacketProcessed, nil
}

// ProcessConnections delivers queued connection events first and then the
// readiness of every stream that became readable or writable.
func (e *Engine) ProcessConnections() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	events := e.events
	ready := e.ready
	e.events = nil
	e.ready = nil
	for _, s := range ready {
		s.queued = false
	}
	e.mu.Unlock()

	h := e.params.Handler

	for _, ev := range events {
		ev(h)
	}

	for _, s := range ready {
		if s.dispatch(h) {
			e.markReady(s, false)
		}
	}
}

// EarliestDeadline reports a zero delay while events or ready streams are
// queued. quic-go keeps its own timers, so nothing else is ever pending.
func (e *Engine) EarliestDeadline() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, false
	}
	if len(e.events) > 0 || len(e.ready) > 0 {
		return 0, true
	}
	return 0, false
}

// Notify is signalled whenever quic-go queued work for ProcessConnections.
func (e *Engine) Notify() <-chan struct{} {
	return e.notifyCh
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.events = nil
	e.ready = nil
	e.mu.Unlock()

	e.cancel()

	_ = e.listener.Close()
	err := e.transport.Close()
	_ = e.conn.Close()

	e.wg.Wait()

	e.logger.Debug("engine closed")

	return err
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// send hands a datagram written by quic-go to the loop's PacketsOut.
func (e *Engine) send(p []byte, addr net.Addr) {
	if e.params.PacketsOut([]quic.OutSpec{{Dest: addr, Data: p}}) < 1 {
		e.logger.Debug("outgoing packet not accepted", "remote_address", addr)
	}
}

// post queues a handler callback and wakes the loop.
func (e *Engine) post(ev func(quic.StreamHandler)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.events = append(e.events, ev)
	e.mu.Unlock()

	e.wake()
}

// markReady queues s for dispatch. Calls made while dispatching pass
// wake=false: the loop asks EarliestDeadline right after and sees the queue.
func (e *Engine) markReady(s *streamWrapper, wake bool) {
	e.mu.Lock()
	if e.closed || s.queued {
		e.mu.Unlock()
		return
	}
	s.queued = true
	e.ready = append(e.ready, s)
	e.mu.Unlock()

	if wake {
		e.wake()
	}
}

func (e *Engine) wake() {
	signal(e.notifyCh)
}

// goAsync runs fn on a goroutine tracked by Close. It reports false once
// the engine is closed.
func (e *Engine) goAsync(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()

	return true
}

func (e *Engine) acceptConnections(ctx context.Context) {
	for {
		conn, err := e.listener.Accept(ctx)
		if err != nil {
			e.logger.Debug("stopped accepting connections", "reason", closeReason(err))
			return
		}

		wrapper := wrapConnection(e, conn)
		wrapper.logger.Debug("accepted connection",
			"alpn", conn.ConnectionState().TLS.NegotiatedProtocol,
		)

		e.post(func(h quic.StreamHandler) {
			h.OnNewConnection(wrapper)
		})

		e.goAsync(wrapper.acceptStreams)
		e.goAsync(wrapper.watch)
	}
}

// startStream announces a new stream to the handler and starts its
// reader and writer.
func (e *Engine) startStream(conn *connWrapper, str *quicgo_quicgo.Stream) {
	s := newStreamWrapper(e, conn, str)

	writer := conn.addWriter()
	if !writer {
		// The connection is closing; the stream never sends.
		s.writeShut = true
		s.txDone = true
	}

	e.post(func(h quic.StreamHandler) {
		s.mu.Lock()
		s.announced = true
		s.mu.Unlock()

		h.OnNewStream(s)
		e.markReady(s, false)
	})

	e.goAsync(s.readLoop)

	if writer && !e.goAsync(s.writeLoop) {
		conn.writers.Done()
	}
}
