package quicgo

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/internal/bufpool"
)

// maxPacketSize bounds the datagrams PacketIn accepts.
const maxPacketSize = 1 << 11

var packetPool = bufpool.New(maxPacketSize)

// engineAddr is the local address reported to quic-go.
// quic-go indexes transports by local address, and every shard's engine
// listens on the same UDP address, so the engine id keeps them apart.
type engineAddr struct {
	net.Addr
	id uint64
}

func (a engineAddr) String() string {
	return fmt.Sprintf("%s#%d", a.Addr, a.id)
}

// unwrapAddr returns the socket address behind an engineAddr.
func unwrapAddr(addr net.Addr) net.Addr {
	if a, ok := addr.(engineAddr); ok {
		return a.Addr
	}
	return addr
}

type packet struct {
	buf  *[]byte
	addr net.Addr
}

var _ net.PacketConn = (*packetConn)(nil)

// packetConn is the net.PacketConn quic-go runs on.
// Datagrams are pushed in by the server loop through deliver and
// datagrams written by quic-go are handed to send.
type packetConn struct {
	local net.Addr
	send  func(p []byte, addr net.Addr)

	incoming chan packet

	closeOnce sync.Once
	closed    chan struct{}

	mu              sync.Mutex
	readDeadline    time.Time
	deadlineChanged chan struct{}
}

func newPacketConn(local net.Addr, queue int, send func(p []byte, addr net.Addr)) *packetConn {
	return &packetConn{
		local:           local,
		send:            send,
		incoming:        make(chan packet, queue),
		closed:          make(chan struct{}),
		deadlineChanged: make(chan struct{}),
	}
}

// deliver queues a copy of p for quic-go without blocking.
func (c *packetConn) deliver(p []byte, addr net.Addr) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	pkt := packet{buf: packetPool.Copy(p), addr: addr}
	select {
	case c.incoming <- pkt:
		return nil
	default:
		packetPool.Put(pkt.buf)
		return errReceiveQueueFull
	}
}

func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		deadline := c.readDeadline
		changed := c.deadlineChanged
		c.mu.Unlock()

		var timeout <-chan time.Time
		var timer *time.Timer
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, nil, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(d)
			timeout = timer.C
		}

		select {
		case pkt := <-c.incoming:
			if timer != nil {
				timer.Stop()
			}
			n := copy(p, *pkt.buf)
			packetPool.Put(pkt.buf)
			return n, pkt.addr, nil
		case <-c.closed:
			if timer != nil {
				timer.Stop()
			}
			return 0, nil, net.ErrClosed
		case <-timeout:
			return 0, nil, os.ErrDeadlineExceeded
		case <-changed:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

// WriteTo never fails: losing a datagram is left to QUIC's loss recovery.
func (c *packetConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.send(p, addr)
	return len(p), nil
}

// Close stops reception. Writes keep flowing so quic-go can still send
// CONNECTION_CLOSE frames while it shuts down.
func (c *packetConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *packetConn) LocalAddr() net.Addr {
	return c.local
}

func (c *packetConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *packetConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readDeadline = t
	close(c.deadlineChanged)
	c.deadlineChanged = make(chan struct{})
	return nil
}

func (c *packetConn) SetWriteDeadline(time.Time) error {
	return nil
}
