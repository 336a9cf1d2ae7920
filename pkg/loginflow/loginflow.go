// Package loginflow coordinates the sign-in handshake between the party that
// starts a login and the callback that finishes it.
//
// Each attempt is keyed by an opaque state, completes at most once, and is
// removed from the registry when it completes, times out or is cancelled.
package loginflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds how long a login waits for completion.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrTimeout indicates the attempt was not completed in time.
	ErrTimeout = errors.New("login timed out")

	// ErrCancelled indicates the attempt was cancelled before completion.
	ErrCancelled = errors.New("login cancelled")
)

// Result is the message a completed attempt delivers.
type Result struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
}

// Registry tracks pending attempts. The zero value is not usable; use New.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Attempt
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[string]*Attempt)}
}

// Attempt is one pending login.
type Attempt struct {
	state string
	reg   *Registry
	done  chan Result
	once  sync.Once
}

// Begin registers a new attempt under a fresh random state.
func (r *Registry) Begin() *Attempt {
	a := &Attempt{
		state: uuid.NewString(),
		reg:   r,
		done:  make(chan Result, 1),
	}
	r.mu.Lock()
	r.pending[a.state] = a
	r.mu.Unlock()
	return a
}

// Complete delivers res to the attempt registered under state. It reports
// false when no such attempt is pending, including when it already completed.
func (r *Registry) Complete(state string, res Result) bool {
	r.mu.Lock()
	a, ok := r.pending[state]
	if ok {
		delete(r.pending, state)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	delivered := false
	a.once.Do(func() {
		a.done <- res
		delivered = true
	})
	return delivered
}

// Pending returns the number of attempts awaiting completion.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// State returns the attempt's state key.
func (a *Attempt) State() string { return a.state }

// Wait blocks until the attempt completes, timeout elapses or ctx is done.
// A non-positive timeout uses DefaultTimeout.
func (a *Attempt) Wait(ctx context.Context, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-a.done:
		return res, nil
	case <-timer.C:
		a.Cancel()
		return a.drain(fmt.Errorf("%w after %s", ErrTimeout, timeout))
	case <-ctx.Done():
		a.Cancel()
		return a.drain(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	}
}

// Cancel removes the attempt without completing it. It is safe to call more
// than once and after completion.
func (a *Attempt) Cancel() {
	a.reg.mu.Lock()
	if cur, ok := a.reg.pending[a.state]; ok && cur == a {
		delete(a.reg.pending, a.state)
	}
	a.reg.mu.Unlock()
	a.once.Do(func() { close(a.done) })
}

// drain prefers a result that raced with the timeout or cancellation.
func (a *Attempt) drain(err error) (Result, error) {
	if res, ok := <-a.done; ok {
		return res, nil
	}
	return Result{}, err
}
