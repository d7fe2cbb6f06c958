package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/OkutaniDaichi0106/quicfeed/internal/bufpool"
	"github.com/OkutaniDaichi0106/quicfeed/quic"
)

var (
	// ErrEgressFull is reported when a packet is dropped because the queue is full.
	ErrEgressFull = errors.New("server: egress queue full")

	// ErrEgressClosed is reported for packets enqueued after Close.
	ErrEgressClosed = errors.New("server: egress queue closed")
)

var egressPool = bufpool.New(MaxDatagramSize)

// EgressOptions configures an EgressQueue.
type EgressOptions struct {
	// Size is the number of packets that can wait to be sent.
	// If zero, 1024 is used.
	Size int

	// OnError observes every packet that was dropped or failed to send.
	OnError func(dest net.Addr, err error)

	/*
	 * Logger
	 */
	Logger *slog.Logger

	Metrics *Metrics
}

type egressPacket struct {
	buf  *[]byte
	dest net.Addr
}

// EgressQueue sends packets on a PacketConn in the order they were enqueued.
// Enqueue never blocks: a single goroutine issues the sends and a failed
// send never stops the ones after it.
type EgressQueue struct {
	conn    net.PacketConn
	queue   chan egressPacket
	onError func(dest net.Addr, err error)
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	closed bool

	done chan struct{}
}

// NewEgressQueue starts the sender goroutine of a queue writing to conn.
func NewEgressQueue(conn net.PacketConn, opts EgressOptions) *EgressQueue {
	size := opts.Size
	if size <= 0 {
		size = 1 << 10
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	q := &EgressQueue{
		conn:    conn,
		queue:   make(chan egressPacket, size),
		onError: opts.OnError,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}

	go q.run()

	return q
}

// Enqueue copies payload and schedules it to be sent to dest after every
// packet enqueued before it.
func (q *EgressQueue) Enqueue(dest net.Addr, payload []byte) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.fail(dest, ErrEgressClosed)
		return
	}

	pkt := egressPacket{buf: egressPool.Copy(payload), dest: dest}

	select {
	case q.queue <- pkt:
		q.metrics.EgressQueueDepth.Inc()
	default:
		egressPool.Put(pkt.buf)
		q.fail(dest, ErrEgressFull)
	}
}

// PacketsOut enqueues every spec. It is meant to be handed to an engine.
func (q *EgressQueue) PacketsOut(specs []quic.OutSpec) int {
	for _, spec := range specs {
		q.Enqueue(spec.Dest, spec.Data)
	}
	return len(specs)
}

// Close stops accepting packets and waits until the queued ones were sent.
func (q *EgressQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	<-q.done

	return nil
}

func (q *EgressQueue) run() {
	defer close(q.done)

	for pkt := range q.queue {
		q.metrics.EgressQueueDepth.Dec()

		_, err := q.conn.WriteTo(*pkt.buf, pkt.dest)
		egressPool.Put(pkt.buf)

		if err != nil {
			q.fail(pkt.dest, err)
			continue
		}

		q.metrics.EgressSent.Inc()
	}
}

func (q *EgressQueue) fail(dest net.Addr, err error) {
	var reason string
	switch {
	case errors.Is(err, ErrEgressFull):
		reason = "queue_full"
		q.logger.Warn("egress queue full, dropping packet", "remote_address", dest)
	case errors.Is(err, ErrEgressClosed):
		reason = "closed"
		q.logger.Debug("egress queue closed, dropping packet", "remote_address", dest)
	default:
		reason = "send"
		q.logger.Warn("failed to send packet", "remote_address", dest, "error", err)
	}

	q.metrics.EgressErrors.WithLabelValues(reason).Inc()

	if q.onError != nil {
		q.onError(dest, err)
	}
}
