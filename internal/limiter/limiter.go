// Package limiter bounds the number of evaluator subprocesses running at
// once. The pool rejects on full rather than queueing: runs are GPU-bound,
// so a backlog would only pile work behind a saturated device.
package limiter

import "errors"

// ErrBusy is returned by TryAcquire when every execution slot is taken.
var ErrBusy = errors.New("all execution slots busy")

// Limiter is a fixed-size permit pool. Safe for concurrent use.
type Limiter struct {
	slots chan struct{}
}

// New creates a Limiter with max slots. max below 1 is clamped to 1.
func New(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{slots: make(chan struct{}, max)}
}

// TryAcquire takes an execution slot without blocking. The returned Permit
// must be released exactly once, on every exit path of the run it admits.
func (l *Limiter) TryAcquire() (*Permit, error) {
	select {
	case l.slots <- struct{}{}:
		return &Permit{pool: l.slots}, nil
	default:
		return nil, ErrBusy
	}
}

// InUse reports the number of currently held permits.
func (l *Limiter) InUse() int {
	return len(l.slots)
}

// Permit is one admitted execution slot.
type Permit struct {
	pool chan struct{}
}

// Release returns the slot to the pool. A second Release on the same
// permit panics: a double release masks a leak elsewhere.
func (p *Permit) Release() {
	if p.pool == nil {
		panic("limiter: permit released twice")
	}
	<-p.pool
	p.pool = nil
}
