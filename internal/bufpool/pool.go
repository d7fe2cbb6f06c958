package bufpool

import "sync"

// Pool hands out byte slices of one fixed size.
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a Pool of buffers with length size.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}

	p := &Pool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Get returns a buffer of the pool's size.
func (p *Pool) Get() *[]byte {
	b := p.pool.Get().(*[]byte)
	*b = (*b)[:p.size]
	return b
}

// Put returns a buffer obtained from Get. Buffers of a different
// capacity are discarded.
func (p *Pool) Put(b *[]byte) {
	if b == nil || cap(*b) != p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}

// Copy returns a pooled buffer holding a copy of data.
// data longer than the pool's size is not supported and yields a fresh allocation
// that Put will discard.
func (p *Pool) Copy(data []byte) *[]byte {
	if len(data) > p.size {
		buf := make([]byte, len(data))
		copy(buf, data)
		return &buf
	}

	b := p.Get()
	*b = (*b)[:copy(*b, data)]
	return b
}
