package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeshell/internal/metrics"
	"tradeshell/internal/nav"
)

// Entry is everything the shell keeps for one browser session.
type Entry struct {
	Store *Store
	Nav   *nav.Bridge

	lastSeen time.Time
}

// Registry owns the entries of all live browser sessions.
type Registry struct {
	source   SessionSource
	profiles ProfileLookup
	log      *zap.Logger
	idle     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	wg      sync.WaitGroup
	closed  bool
}

func NewRegistry(source SessionSource, profiles ProfileLookup, idle time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		source:   source,
		profiles: profiles,
		log:      log,
		idle:     idle,
		now:      time.Now,
		entries:  make(map[string]*Entry),
	}
}

// Acquire returns the entry for sid, creating it on first use. A new entry's
// store starts loading and resolves in the background; callers wait on
// Store.Ready when they need a settled state.
func (r *Registry) Acquire(sid string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sid]; ok {
		e.lastSeen = r.now()
		return e
	}

	e := &Entry{
		Store:    NewStore(sid, r.source, r.profiles, r.log),
		Nav:      nav.NewBridge(),
		lastSeen: r.now(),
	}
	if r.closed {
		e.Store.Teardown()
		return e
	}
	r.entries[sid] = e
	metrics.SessionsActive.Set(float64(len(r.entries)))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.Store.Initialize(e.Store.ctx)
	}()
	return e
}

// Lookup returns the entry for sid without creating one.
func (r *Registry) Lookup(sid string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sid]
	return e, ok
}

// Release tears down and forgets the entry for sid.
func (r *Registry) Release(sid string) {
	r.mu.Lock()
	e, ok := r.entries[sid]
	delete(r.entries, sid)
	metrics.SessionsActive.Set(float64(len(r.entries)))
	r.mu.Unlock()

	if ok {
		e.Store.Teardown()
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep releases entries idle for longer than the idle timeout and returns
// how many were released.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []*Entry
	for sid, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(r.entries, sid)
		}
	}
	metrics.SessionsActive.Set(float64(len(r.entries)))
	r.mu.Unlock()

	for _, e := range stale {
		e.Store.Teardown()
	}
	if len(stale) > 0 {
		r.log.Debug("released idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps idle entries every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close tears down every entry and waits for background initialisation to stop.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*Entry)
	metrics.SessionsActive.Set(0)
	r.mu.Unlock()

	for _, e := range entries {
		e.Store.Teardown()
	}
	r.wg.Wait()
}
