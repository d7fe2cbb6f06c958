package stream

import (
	"errors"
	"sync"
)

var (
	// ErrUnderflow is returned when more bytes are consumed or dropped than
	// an Accumulator currently exposes. It always indicates a caller bug.
	ErrUnderflow = errors.New("stream: underflow")
)

// Accumulator is a growable single-direction byte buffer.
// Bytes are appended at the tail and consumed at the head.
// Offsets only move forward and the storage is never compacted,
// so the backing slice is reclaimed only with the Accumulator itself.
type Accumulator struct {
	mu sync.Mutex

	buf []byte

	// head is the consume offset, tail is the fill offset.
	// 0 <= head <= tail <= len(buf)
	head int
	tail int
}

// Append copies p to the tail of the accumulator.
// An empty p leaves the accumulator untouched.
func (a *Accumulator) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tail+len(p) > len(a.buf) {
		a.grow(len(p))
	}

	a.tail += copy(a.buf[a.tail:], p)
}

// grow reallocates the storage to at least max(2*len(buf), tail+2*n).
func (a *Accumulator) grow(n int) {
	size := max(2*len(a.buf), a.tail+2*n)
	buf := make([]byte, size)
	copy(buf[a.head:a.tail], a.buf[a.head:a.tail])
	a.buf = buf
}

// Consume copies len(p) bytes from the head into p and advances the head.
// If fewer than len(p) bytes are exposed, ErrUnderflow is returned and
// nothing is consumed.
func (a *Accumulator) Consume(p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(p) > a.tail-a.head {
		return ErrUnderflow
	}

	a.head += copy(p, a.buf[a.head:a.tail])
	return nil
}

// Drop advances the head by n bytes without copying them out.
func (a *Accumulator) Drop(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.drop(n)
}

func (a *Accumulator) drop(n int) error {
	if n < 0 || n > a.tail-a.head {
		return ErrUnderflow
	}
	a.head += n
	return nil
}

// Peek returns the exposed bytes without consuming them.
// The returned slice aliases the storage and stays valid until the bytes
// are consumed or dropped.
func (a *Accumulator) Peek() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.buf[a.head:a.tail:a.tail]
}

// Drain calls fn with the exposed bytes while holding the accumulator and
// drops the count fn reports as accepted. fn must not block and must not
// call back into the accumulator.
//
// A negative count or a count larger than the span is reported as
// ErrUnderflow; an error from fn is returned after the accepted bytes
// were dropped.
func (a *Accumulator) Drain(fn func(p []byte) (int, error)) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.head == a.tail {
		return 0, nil
	}

	n, err := fn(a.buf[a.head:a.tail:a.tail])
	if dropErr := a.drop(n); dropErr != nil {
		return 0, dropErr
	}

	return n, err
}

// Len returns the number of exposed bytes.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.tail - a.head
}

// Available returns how many bytes can be appended before the storage grows.
func (a *Accumulator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.buf) - a.tail
}
