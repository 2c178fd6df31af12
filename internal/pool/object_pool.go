package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool reuses objects of one type through sync.Pool, counting hits so the
// payoff is observable.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)

	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewPool creates a pool. newFunc builds a fresh object; resetFunc, if
// non-nil, scrubs a returned object before reuse.
func NewPool[T any](newFunc func() T, resetFunc func(*T)) *Pool[T] {
	p := &Pool[T]{reset: resetFunc}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get takes an object from the pool, building one when empty.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object for reuse.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats reports cumulative pool counters.
func (p *Pool[T]) Stats() ObjectPoolStats {
	return ObjectPoolStats{
		Gets: p.gets.Load(),
		Puts: p.puts.Load(),
		News: p.news.Load(),
	}
}

// ObjectPoolStats are cumulative object pool counters.
type ObjectPoolStats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// HitRate is the fraction of Gets served without allocating.
func (s ObjectPoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// Buffers pools byte buffers for response and event encoding.
var Buffers = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
	func(b **bytes.Buffer) {
		(*b).Reset()
	},
)
