package worker

import (
	"math/rand/v2"
	"net"
	"sync"
)

// channelPool hands out the front-end ends of the per-worker streams.
// A stream is exported the first time it is needed, picking a random worker
// that has not been exported yet; afterwards streams are reused through the
// idle queue.
type channelPool struct {
	mu       sync.Mutex
	ends     []net.Conn
	exported []bool

	idle      chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func newChannelPool(ends []net.Conn) *channelPool {
	return &channelPool{
		ends:     ends,
		exported: make([]bool, len(ends)),
		idle:     make(chan net.Conn, len(ends)),
		closed:   make(chan struct{}),
	}
}

// borrow returns a stream for exclusive use until release. It blocks while
// every stream is borrowed.
func (c *channelPool) borrow() (net.Conn, error) {
	select {
	case <-c.closed:
		return nil, ErrNoWorkers
	case conn := <-c.idle:
		return conn, nil
	default:
	}

	if conn := c.export(); conn != nil {
		return conn, nil
	}

	select {
	case <-c.closed:
		return nil, ErrNoWorkers
	case conn := <-c.idle:
		return conn, nil
	}
}

func (c *channelPool) export() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidates := make([]int, 0, len(c.ends))
	for i, done := range c.exported {
		if !done {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	i := candidates[rand.IntN(len(candidates))]
	c.exported[i] = true
	return c.ends[i]
}

func (c *channelPool) release(conn net.Conn) {
	select {
	case c.idle <- conn:
	default:
	}
}

// close closes every stream; pending and future borrows fail.
func (c *channelPool) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, conn := range c.ends {
			conn.Close()
		}
	})
}
