package session

import (
	"context"
	"sync"

	"tradeshell/internal/db"
	"tradeshell/internal/identity"
)

type fakeSource struct {
	mu        sync.Mutex
	sess      *identity.Session
	err       error
	block     chan struct{}
	listeners map[int]identity.Listener
	next      int
	lookups   int
}

func newFakeSource(sess *identity.Session, err error) *fakeSource {
	return &fakeSource{sess: sess, err: err, listeners: make(map[int]identity.Listener)}
}

func (f *fakeSource) GetSession(ctx context.Context, _ string) (*identity.Session, error) {
	f.mu.Lock()
	block := f.block
	f.lookups++
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.err
}

func (f *fakeSource) OnSessionChange(_ string, l identity.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSource) emit(event identity.Event, s *identity.Session) {
	f.mu.Lock()
	ls := make([]identity.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(event, s)
	}
}

func (f *fakeSource) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*db.Profile
	err      error
	calls    int
	hold     map[string]chan struct{}
	started  chan string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		profiles: make(map[string]*db.Profile),
		hold:     make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (f *fakeProfiles) GetProfile(ctx context.Context, userID string) (*db.Profile, error) {
	f.mu.Lock()
	f.calls++
	hold := f.hold[userID]
	f.mu.Unlock()

	select {
	case f.started <- userID:
	default:
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[userID], nil
}

func (f *fakeProfiles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProfiles) set(p *db.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

func rawSession(userID, token string) *identity.Session {
	return &identity.Session{
		AccessToken:  token,
		RefreshToken: "r-" + token,
		User:         &identity.User{ID: userID, Email: userID + "@example.com"},
	}
}
