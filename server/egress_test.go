package server

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSendFailed = errors.New("send failed")

type sentPacket struct {
	data string
	dest net.Addr
}

// recordingConn records writes with a random latency and fails writes of
// payloads listed in fail.
type recordingConn struct {
	net.PacketConn

	mu   sync.Mutex
	sent []sentPacket
	fail map[string]bool

	block chan struct{}
}

func (c *recordingConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if c.block != nil {
		<-c.block
	}

	time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail[string(p)] {
		return 0, errSendFailed
	}
	c.sent = append(c.sent, sentPacket{data: string(p), dest: addr})
	return len(p), nil
}

func (c *recordingConn) packets() []sentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentPacket(nil), c.sent...)
}

type egressFailure struct {
	dest net.Addr
	err  error
}

func TestEgressQueue_Order(t *testing.T) {
	conn := &recordingConn{}
	q := NewEgressQueue(conn, EgressOptions{})

	other := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 4433}

	var want []sentPacket
	for i := 0; i < 100; i++ {
		dest := net.Addr(testPeer)
		if i%3 == 0 {
			dest = other
		}
		payload := fmt.Sprintf("packet-%03d", i)
		q.Enqueue(dest, []byte(payload))
		want = append(want, sentPacket{data: payload, dest: dest})
	}

	require.NoError(t, q.Close())
	assert.Equal(t, want, conn.packets())
}

func TestEgressQueue_CopiesPayload(t *testing.T) {
	conn := &recordingConn{block: make(chan struct{})}
	q := NewEgressQueue(conn, EgressOptions{})

	payload := []byte("original")
	q.Enqueue(testPeer, payload)
	copy(payload, "mutated!")

	close(conn.block)
	require.NoError(t, q.Close())

	require.Len(t, conn.packets(), 1)
	assert.Equal(t, "original", conn.packets()[0].data)
}

func TestEgressQueue_FailureDoesNotStopLaterSends(t *testing.T) {
	conn := &recordingConn{fail: map[string]bool{"second": true}}

	var mu sync.Mutex
	var failures []egressFailure

	metrics := NewMetrics(nil)
	q := NewEgressQueue(conn, EgressOptions{
		Metrics: metrics,
		OnError: func(dest net.Addr, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, egressFailure{dest: dest, err: err})
		},
	})

	for _, p := range []string{"first", "second", "third"} {
		q.Enqueue(testPeer, []byte(p))
	}
	require.NoError(t, q.Close())

	assert.Equal(t, []sentPacket{
		{data: "first", dest: testPeer},
		{data: "third", dest: testPeer},
	}, conn.packets())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.Equal(t, testPeer, failures[0].dest)
	assert.ErrorIs(t, failures[0].err, errSendFailed)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.EgressSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EgressErrors.WithLabelValues("send")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.EgressQueueDepth))
}

func TestEgressQueue_Full(t *testing.T) {
	conn := &recordingConn{block: make(chan struct{})}

	var mu sync.Mutex
	var failures []egressFailure

	q := NewEgressQueue(conn, EgressOptions{
		Size: 1,
		OnError: func(dest net.Addr, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, egressFailure{dest: dest, err: err})
		},
	})

	// The sender holds at most one packet and the queue one more; the rest
	// must be dropped without blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			q.Enqueue(testPeer, []byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(conn.block)
	require.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(failures), 8)
	for _, f := range failures {
		assert.ErrorIs(t, f.err, ErrEgressFull)
	}
	assert.Equal(t, 10, len(failures)+len(conn.packets()))
}

func TestEgressQueue_Closed(t *testing.T) {
	conn := &recordingConn{}

	var failures []error
	q := NewEgressQueue(conn, EgressOptions{
		OnError: func(dest net.Addr, err error) {
			failures = append(failures, err)
		},
	})

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	q.Enqueue(testPeer, []byte("late"))

	assert.Empty(t, conn.packets())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrEgressClosed)
}

func TestEgressQueue_PacketsOut(t *testing.T) {
	conn := &recordingConn{}
	q := NewEgressQueue(conn, EgressOptions{})

	n := q.PacketsOut([]quic.OutSpec{
		{Dest: testPeer, Data: []byte("a")},
		{Dest: testPeer, Data: []byte("b")},
	})
	assert.Equal(t, 2, n)

	require.NoError(t, q.Close())
	assert.Equal(t, []sentPacket{
		{data: "a", dest: testPeer},
		{data: "b", dest: testPeer},
	}, conn.packets())
}

func TestEgressQueue_UDP(t *testing.T) {
	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer receiver.Close()

	q := NewEgressQueue(sender, EgressOptions{})
	q.Enqueue(receiver.LocalAddr(), []byte("over the wire"))

	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, MaxDatagramSize)
	n, from, err := receiver.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "over the wire", string(buf[:n]))
	assert.Equal(t, sender.LocalAddr().String(), from.String())

	require.NoError(t, q.Close())
}
