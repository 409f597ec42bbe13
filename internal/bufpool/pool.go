package bufpool

import (
	"sync"
)

// Pool hands out chunk buffers of one fixed size. Send and receive workers
// borrow a buffer for the lifetime of a transfer and return it afterwards.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

var shared sync.Map // int -> *Pool

// New creates a pool whose buffers are exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		b := make([]byte, bufSize)
		return &b
	}
	return p
}

// For returns the process-wide pool for bufSize, creating it on first use.
func For(bufSize int) *Pool {
	if p, ok := shared.Load(bufSize); ok {
		return p.(*Pool)
	}
	p, _ := shared.LoadOrStore(bufSize, New(bufSize))
	return p.(*Pool)
}

// Get returns a buffer of exactly the pool's size.
func (p *Pool) Get() *[]byte {
	bp := p.pool.Get().(*[]byte)
	if cap(*bp) < p.bufSize {
		b := make([]byte, p.bufSize)
		return &b
	}
	*bp = (*bp)[:p.bufSize]
	return bp
}

// Put returns a buffer obtained from Get. Undersized buffers are dropped.
func (p *Pool) Put(bp *[]byte) {
	if bp == nil || cap(*bp) < p.bufSize {
		return
	}
	*bp = (*bp)[:cap(*bp)]
	p.pool.Put(bp)
}
