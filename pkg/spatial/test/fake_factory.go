// Package test provides test doubles for the pool's collaborators.
package test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
)

// FakeHandle is an in-memory database.Handle.
type FakeHandle struct {
	id       string
	closed   atomic.Bool
	closeErr error
}

// NewFakeHandle creates a handle with the given id.
func NewFakeHandle(id string) *FakeHandle {
	return &FakeHandle{id: id}
}

// ID implements database.Handle.
func (h *FakeHandle) ID() string { return h.id }

// Close implements database.Handle.
func (h *FakeHandle) Close() error {
	h.closed.Store(true)
	return h.closeErr
}

// Closed reports whether Close was called.
func (h *FakeHandle) Closed() bool { return h.closed.Load() }

// FakeFactory is a database.ConnectionFactory that hands out FakeHandles.
type FakeFactory struct {
	mu       sync.Mutex
	opened   []*FakeHandle
	failFrom int // open number (1-based) from which Open fails; 0 disables
	failErr  error
	closeErr error
	delay    time.Duration
}

// NewFakeFactory creates a factory whose Open always succeeds.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{}
}

// FailFrom makes the nth and later Open calls fail with err.
func (f *FakeFactory) FailFrom(n int, err error) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = errors.New("backend refused connection")
	}
	f.failFrom, f.failErr = n, err
	return f
}

// WithCloseError makes handles opened afterwards fail on Close.
func (f *FakeFactory) WithCloseError(err error) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr = err
	return f
}

// WithDelay makes every Open take d.
func (f *FakeFactory) WithDelay(d time.Duration) *FakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// Open implements database.ConnectionFactory.
func (f *FakeFactory) Open(ctx context.Context, cfg dbconfig.ConnectionConfig) (database.Handle, error) {
	f.mu.Lock()
	attempt := len(f.opened) + 1
	delay, failFrom, failErr, closeErr := f.delay, f.failFrom, f.failErr, f.closeErr
	if failFrom == 0 || attempt < failFrom {
		// Reserve the slot now so concurrent opens get distinct ids.
		f.opened = append(f.opened, nil)
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failFrom > 0 && attempt >= failFrom {
		return nil, failErr
	}

	h := &FakeHandle{id: fmt.Sprintf("fake-%d", attempt), closeErr: closeErr}
	f.mu.Lock()
	f.opened[attempt-1] = h
	f.mu.Unlock()
	return h, nil
}

// Opened returns every handle created so far.
func (f *FakeFactory) Opened() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeHandle, 0, len(f.opened))
	for _, h := range f.opened {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// OpenCount returns how many handles were created successfully.
func (f *FakeFactory) OpenCount() int {
	return len(f.Opened())
}

var _ database.ConnectionFactory = (*FakeFactory)(nil)
