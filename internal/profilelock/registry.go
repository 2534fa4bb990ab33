// Package profilelock keeps two browser sessions from opening the same
// on-disk profile directory at once.
package profilelock

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a profile stays held past the registry's
// deadlock-detection timeout.
var ErrLockTimeout = errors.New("profile lock timeout")

// Registry maps profile directories to locks. Locks are created on first use
// and live as long as the registry.
type Registry struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	timeout time.Duration
}

// Handle is a held profile lock.
type Handle struct {
	dir  string
	ch   chan struct{}
	once sync.Once
}

// NewRegistry builds a registry. A zero timeout waits indefinitely.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{locks: make(map[string]chan struct{}), timeout: timeout}
}

func (r *Registry) lockFor(dir string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[dir]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[dir] = ch
	}
	return ch
}

// Acquire blocks until the lock for dir is held, ctx is done, or the
// registry timeout elapses.
func (r *Registry) Acquire(ctx context.Context, dir string) (*Handle, error) {
	key := filepath.Clean(dir)
	ch := r.lockFor(key)

	var expired <-chan time.Time
	if r.timeout > 0 {
		t := time.NewTimer(r.timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case ch <- struct{}{}:
		return &Handle{dir: key, ch: ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire profile %s: %w", key, ctx.Err())
	case <-expired:
		return nil, fmt.Errorf("acquire profile %s after %s: %w", key, r.timeout, ErrLockTimeout)
	}
}

// Len reports how many profile directories have been seen.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Dir is the cleaned profile directory this handle holds.
func (h *Handle) Dir() string { return h.dir }

// Release frees the lock. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() { <-h.ch })
}
