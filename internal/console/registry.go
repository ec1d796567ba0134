package console

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultOpenTimeout bounds a console open that no caller is waiting on
// anymore.
const DefaultOpenTimeout = 30 * time.Second

type Opener func(ctx context.Context, adminUID string) (*Console, error)

// Registry holds one console per admin. Consoles idle for longer than the
// TTL, pushed out by size, or whose live queries failed are closed and
// reopened on the next access.
type Registry struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *Console]
	closed bool

	open        Opener
	opening     singleflight.Group
	openTimeout time.Duration
}

func NewRegistry(size int, ttl time.Duration, open Opener) *Registry {
	onEvict := func(_ string, c *Console) {
		// Close waits for subscription goroutines; keep it off the cache lock.
		go c.Close()
	}
	return &Registry{
		cache:       expirable.NewLRU[string, *Console](size, onEvict, ttl),
		open:        open,
		openTimeout: DefaultOpenTimeout,
	}
}

// Get returns the admin's console, opening one if needed. Each access
// restarts the idle TTL. Opens for different admins run concurrently;
// concurrent opens for the same admin share one result.
func (r *Registry) Get(ctx context.Context, adminUID string) (*Console, error) {
	if c, ok := r.cached(adminUID); ok {
		return c, nil
	}

	// The open outlives a caller that gives up, so the callers sharing it
	// are not failed by the first one's cancellation.
	openCtx := context.WithoutCancel(ctx)
	result := r.opening.DoChan(adminUID, func() (any, error) {
		if c, ok := r.cached(adminUID); ok {
			return c, nil
		}
		octx, cancel := context.WithTimeout(openCtx, r.openTimeout)
		defer cancel()
		c, err := r.open(octx, adminUID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			go c.Close()
			return nil, ErrClosed
		}
		r.cache.Add(adminUID, c)
		return c, nil
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Console), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cached returns a live console for adminUID and refreshes its TTL. A
// console that closed itself is evicted.
func (r *Registry) cached(adminUID string) (*Console, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache.Get(adminUID)
	if !ok {
		return nil, false
	}
	if c.Closed() {
		r.cache.Remove(adminUID)
		return nil, false
	}
	r.cache.Add(adminUID, c)
	return c, true
}

func (r *Registry) Drop(adminUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(adminUID)
}

func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every console synchronously. Opens still in flight close
// their console instead of caching it.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	consoles := r.cache.Values()
	r.cache.Purge()
	r.mu.Unlock()
	for _, c := range consoles {
		c.Close()
	}
}
