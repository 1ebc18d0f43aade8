package transfer

import (
	"sync"
)

// Pool is a free list of equally sized buffers for one resource kind.
type Pool struct {
	mu         sync.Mutex
	capacity   int
	fieldCount int
	maxIdle    int
	free       []*Buffer
	allocated  int
}

/**
 * @brief Creates a pool handing out buffers of capacity bytes with fieldCount
 * header fields. At most maxIdle released buffers are kept for reuse.
 */
func NewPool(capacity, fieldCount, maxIdle int) (*Pool, error) {
	if err := validateGeometry(capacity, fieldCount); err != nil {
		return nil, err
	}
	if maxIdle < 0 {
		maxIdle = 0
	}
	return &Pool{
		capacity:   capacity,
		fieldCount: fieldCount,
		maxIdle:    maxIdle,
	}, nil
}

func (p *Pool) Capacity() int   { return p.capacity }
func (p *Pool) FieldCount() int { return p.fieldCount }

// Acquire returns a reset buffer, reusing a released one when available.
func (p *Pool) Acquire() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return b
	}
	p.allocated++
	b, _ := NewBuffer(p.capacity, p.fieldCount)
	return b
}

// Release resets b and keeps it for the next Acquire. Buffers of a different
// geometry are dropped.
func (p *Pool) Release(b *Buffer) {
	if b == nil || b.Capacity() != p.capacity || b.FieldCount() != p.fieldCount {
		return
	}
	b.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.maxIdle {
		p.free = append(p.free, b)
	}
}

// Idle is the number of buffers waiting for reuse.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated is the number of buffers this pool has ever created.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}
