// Package session keeps the per-visitor record of who is signed in.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeshell/internal/db"
	"tradeshell/internal/identity"
	"tradeshell/internal/metrics"
)

const defaultProfileTimeout = 5 * time.Second

// State is a snapshot of a Store. IsAuthenticated is true exactly when User is
// set and Loading is false. Profile may be nil for an authenticated user; treat
// that as onboarding not completed.
type State struct {
	User            *identity.User    `json:"user"`
	Profile         *db.Profile       `json:"profile"`
	Raw             *identity.Session `json:"-"`
	Loading         bool              `json:"loading"`
	IsAuthenticated bool              `json:"isAuthenticated"`
}

// HasSeenOnboarding reports the onboarding flag, false when no profile is known.
func (s State) HasSeenOnboarding() bool {
	return s.Profile != nil && s.Profile.HasSeenOnboarding
}

func loadingState() State {
	return State{Loading: true}
}

// SessionSource is the slice of the identity provider a Store depends on.
type SessionSource interface {
	GetSession(ctx context.Context, sid string) (*identity.Session, error)
	OnSessionChange(sid string, l identity.Listener) (unsubscribe func())
}

// ProfileLookup fetches the application profile for a user.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*db.Profile, error)
}

// Store is the single source of truth for one browser session. It starts out
// loading, settles once Initialize resolves, and afterwards follows provider
// events. Loading is never re-entered.
type Store struct {
	sid            string
	source         SessionSource
	profiles       ProfileLookup
	log            *zap.Logger
	profileTimeout time.Duration

	// ctx is cancelled by Teardown so in-flight lookups stop early.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	state       State
	generation  uint64
	lastEvent   string
	closed      bool
	unsubscribe func()

	ready     chan struct{}
	readyOnce sync.Once
}

// NewStore returns a loading store for sid. Call Initialize to resolve it.
func NewStore(sid string, source SessionSource, profiles ProfileLookup, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		sid:            sid,
		source:         source,
		profiles:       profiles,
		log:            log.Named("session").With(zap.String("sid", sid)),
		profileTimeout: defaultProfileTimeout,
		ctx:            ctx,
		cancel:         cancel,
		state:          loadingState(),
		ready:          make(chan struct{}),
	}
}

func (s *Store) ID() string {
	return s.sid
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready is closed once the store has left the loading state or was torn down.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the store is ready or ctx is done and returns the state
// at that point, which may still be loading.
func (s *Store) Wait(ctx context.Context) State {
	select {
	case <-s.ready:
	case <-ctx.Done():
	}
	return s.Snapshot()
}

// Initialize subscribes to provider events and resolves the current session.
// Any provider or profile failure still settles the store: a failed session
// lookup counts as signed out, a failed profile lookup leaves Profile nil.
func (s *Store) Initialize(ctx context.Context) State {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.Snapshot()
	}
	if s.unsubscribe == nil {
		s.unsubscribe = s.source.OnSessionChange(s.sid, s.handleEvent)
	}
	gen := s.nextGeneration()
	s.mu.Unlock()

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	raw, err := s.source.GetSession(ctx, s.sid)
	if err != nil {
		if errors.Is(err, identity.ErrNotConfigured) {
			s.log.Debug("identity provider not configured, treating visitor as signed out")
		} else {
			s.log.Warn("session lookup failed, treating visitor as signed out", zap.Error(err))
		}
		metrics.SessionResolutions.WithLabelValues("error").Inc()
		s.apply(gen, State{})
		return s.Snapshot()
	}

	s.resolve(ctx, gen, raw)
	return s.Snapshot()
}

// OnProviderEvent applies a provider session change. Delivering the same event
// for the same tokens twice has no further effect.
func (s *Store) OnProviderEvent(ctx context.Context, event identity.Event, raw *identity.Session) {
	key := eventKey(event, raw)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if key == s.lastEvent {
		s.mu.Unlock()
		return
	}
	s.lastEvent = key
	gen := s.nextGeneration()
	s.mu.Unlock()

	s.log.Debug("provider event", zap.String("event", string(event)))

	ctx, cancel := s.scoped(ctx)
	defer cancel()
	s.resolve(ctx, gen, raw)
}

// ReloadProfile re-reads the profile of the signed-in user, for example after
// onboarding was completed. It is a no-op for signed-out visitors. The result
// only replaces Profile, and is dropped if the user changed or a provider
// event started in the meantime.
func (s *Store) ReloadProfile(ctx context.Context) State {
	s.mu.RLock()
	if s.closed || !s.state.IsAuthenticated {
		s.mu.RUnlock()
		return s.Snapshot()
	}
	userID := s.state.User.ID
	gen := s.generation
	s.mu.RUnlock()

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	profile := s.fetchProfile(ctx, userID)

	s.mu.Lock()
	if s.closed || gen != s.generation || s.state.User == nil || s.state.User.ID != userID {
		s.mu.Unlock()
		metrics.StaleProfileResults.Inc()
		return s.Snapshot()
	}
	s.state.Profile = profile
	s.mu.Unlock()
	return s.Snapshot()
}

// Teardown unsubscribes from provider events and freezes the store. Results
// of lookups still in flight are discarded.
func (s *Store) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	s.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Store) handleEvent(event identity.Event, raw *identity.Session) {
	s.OnProviderEvent(s.ctx, event, raw)
}

func (s *Store) resolve(ctx context.Context, gen uint64, raw *identity.Session) {
	if raw == nil || raw.User == nil {
		metrics.SessionResolutions.WithLabelValues("unauthenticated").Inc()
		s.apply(gen, State{})
		return
	}

	profile := s.fetchProfile(ctx, raw.User.ID)
	if s.apply(gen, State{User: raw.User, Profile: profile, Raw: raw}) {
		metrics.SessionResolutions.WithLabelValues("authenticated").Inc()
	}
}

func (s *Store) fetchProfile(ctx context.Context, userID string) *db.Profile {
	if s.profiles == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.profileTimeout)
	defer cancel()

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		s.log.Warn("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return profile
}

// apply installs next if gen is still the newest generation. It reports
// whether the state was installed.
func (s *Store) apply(gen uint64, next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.generation {
		metrics.StaleProfileResults.Inc()
		return false
	}

	next.Loading = false
	next.IsAuthenticated = next.User != nil
	s.state = next
	s.readyOnce.Do(func() { close(s.ready) })
	return true
}

// nextGeneration must be called with s.mu held.
func (s *Store) nextGeneration() uint64 {
	s.generation++
	return s.generation
}

// scoped derives a context that is also cancelled by Teardown.
func (s *Store) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func eventKey(event identity.Event, raw *identity.Session) string {
	if raw == nil || raw.User == nil {
		return string(event) + "|"
	}
	return string(event) + "|" + raw.User.ID + "|" + raw.AccessToken
}
