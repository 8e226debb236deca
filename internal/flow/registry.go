package flow

import (
	"sync"
	"time"

	"orderdesk/api/internal/auth"
)

// Registry keeps one controller per uid, shared by every session of that
// identity.
type Registry struct {
	resolver StatusResolver
	opts     Options
	now      func() time.Time

	mu          sync.Mutex
	controllers map[string]*Controller
	lastUsed    map[string]time.Time
	closed      bool
}

func NewRegistry(resolver StatusResolver, opts Options) *Registry {
	return &Registry{
		resolver:    resolver,
		opts:        opts.withDefaults(),
		now:         time.Now,
		controllers: make(map[string]*Controller),
		lastUsed:    make(map[string]time.Time),
	}
}

// Acquire returns the controller of identity, creating it on first use.
// An existing controller picks up the latest identity claims.
func (r *Registry) Acquire(identity auth.Identity) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.lastUsed[identity.UID] = r.now()
	if c, ok := r.controllers[identity.UID]; ok {
		c.SetIdentity(identity)
		return c, nil
	}
	c := NewController(identity, r.resolver, r.opts)
	r.controllers[identity.UID] = c
	return c, nil
}

func (r *Registry) Lookup(uid string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[uid]
	return c, ok
}

// Release tears down the controller of uid, if any.
func (r *Registry) Release(uid string) {
	r.mu.Lock()
	c, ok := r.controllers[uid]
	delete(r.controllers, uid)
	delete(r.lastUsed, uid)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// ReleaseIdle tears down every controller not acquired within idle and
// returns their uids. Lookup does not count as use.
func (r *Registry) ReleaseIdle(idle time.Duration) []string {
	cutoff := r.now().Add(-idle)
	var released []*Controller
	var uids []string

	r.mu.Lock()
	for uid, c := range r.controllers {
		if r.lastUsed[uid].After(cutoff) {
			continue
		}
		delete(r.controllers, uid)
		delete(r.lastUsed, uid)
		released = append(released, c)
		uids = append(uids, uid)
	}
	r.mu.Unlock()

	for _, c := range released {
		c.Close()
	}
	return uids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Close tears down every controller and rejects further acquisitions.
func (r *Registry) Close() {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*Controller)
	r.lastUsed = make(map[string]time.Time)
	r.closed = true
	r.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
