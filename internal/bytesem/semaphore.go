// Package bytesem implements a counting semaphore measured in bytes rather
// than slots, used to bound the amount of memory or disk space the import
// pipeline allows to be outstanding at once.
package bytesem

import (
	"context"
	"sync"

	"orc-import/pkg/orcerrors"
)

// Semaphore bounds outstanding bytes to Capacity. Acquire blocks until
// enough budget is free or ctx is canceled; Release returns bytes to the
// pool and wakes any blocked acquirers. The zero value is not usable; use
// New.
type Semaphore struct {
	mu         sync.Mutex
	cond       *sync.Cond
	capacity   uint64
	outstanding uint64
	closed     bool
}

// New creates a Semaphore with the given byte capacity. A capacity of 0
// means unbounded: Acquire never blocks.
func New(capacity uint64) *Semaphore {
	s := &Semaphore{capacity: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until n bytes of budget are available, then charges them.
// Requests larger than the total capacity block forever unless capacity is
// 0 (unbounded); callers should size requests sanely. Returns ctx.Err() if
// ctx is canceled while waiting, or an orcerrors.PipelineError if the
// semaphore has been closed.
func (s *Semaphore) Acquire(ctx context.Context, n uint64) error {
	if s.capacity == 0 {
		return nil
	}

	// Wake this goroutine's wait if ctx is canceled; sync.Cond has no
	// native context support, so a watcher goroutine does the broadcast.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return orcerrors.New(orcerrors.CodeIOFailed, "bytesem", "Acquire", "semaphore closed")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.outstanding+n <= s.capacity {
			s.outstanding += n
			return nil
		}
		s.cond.Wait()
	}
}

// Release returns n bytes of budget to the pool and wakes blocked
// acquirers. Callers must release exactly the amount they acquired,
// exactly once.
func (s *Semaphore) Release(n uint64) {
	if s.capacity == 0 {
		return
	}
	s.mu.Lock()
	if n > s.outstanding {
		s.outstanding = 0
	} else {
		s.outstanding -= n
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Outstanding returns the number of bytes currently charged.
func (s *Semaphore) Outstanding() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Capacity returns the semaphore's total byte budget (0 means unbounded).
func (s *Semaphore) Capacity() uint64 {
	return s.capacity
}

// Utilization returns Outstanding/Capacity in [0,1], or 0 if unbounded.
func (s *Semaphore) Utilization() float64 {
	if s.capacity == 0 {
		return 0
	}
	return float64(s.Outstanding()) / float64(s.capacity)
}

// Close marks the semaphore closed: all blocked and future Acquire calls
// return an error immediately. Used during shutdown to unblock waiters.
func (s *Semaphore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}
