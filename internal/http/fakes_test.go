package http

import (
	"context"
	"sync"

	"tradeshell/internal/db"
	"tradeshell/internal/identity"
)

const validOTP = "123456"

type fakeAccount struct {
	id       string
	password string
	fullName string
	verified bool
}

// fakeProvider is an in-memory identity provider that emits events
// synchronously, the way the Supabase client does.
type fakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount
	sessions  map[string]*identity.Session
	listeners map[string]map[int]identity.Listener
	next      int
	block     chan struct{}
	resent    []string
	recovered []string
	passwords map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts:  make(map[string]*fakeAccount),
		sessions:  make(map[string]*identity.Session),
		listeners: make(map[string]map[int]identity.Listener),
		passwords: make(map[string]string),
	}
}

func (f *fakeProvider) addAccount(email, password, id, fullName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email] = &fakeAccount{id: id, password: password, fullName: fullName, verified: true}
}

func (f *fakeProvider) sessionFor(email string, acct *fakeAccount) *identity.Session {
	return &identity.Session{
		AccessToken:  "at-" + acct.id,
		RefreshToken: "rt-" + acct.id,
		TokenType:    "bearer",
		User: &identity.User{
			ID:           acct.id,
			Email:        email,
			UserMetadata: map[string]any{"full_name": acct.fullName},
		},
	}
}

func (f *fakeProvider) GetSession(ctx context.Context, sid string) (*identity.Session, error) {
	f.mu.Lock()
	block := f.block
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
	return f.sessions[sid], nil
}

func (f *fakeProvider) SignIn(_ context.Context, sid, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	acct, ok := f.accounts[email]
	if !ok || acct.password != password {
		f.mu.Unlock()
		return nil, identity.ErrInvalidCredentials
	}
	if !acct.verified {
		f.mu.Unlock()
		return nil, identity.ErrEmailNotConfirmed
	}
	sess := f.sessionFor(email, acct)
	f.sessions[sid] = sess
	f.mu.Unlock()

	f.emit(sid, identity.EventSignedIn, sess)
	return sess, nil
}

func (f *fakeProvider) SignInWithIDToken(ctx context.Context, sid, _, idToken string) (*identity.Session, error) {
	return f.SignIn(ctx, sid, idToken, "")
}

func (f *fakeProvider) SignUp(_ context.Context, _ string, email, password, fullName string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[email]; ok {
		return nil, identity.ErrUserExists
	}
	acct := &fakeAccount{id: "new-" + email, password: password, fullName: fullName}
	f.accounts[email] = acct
	return &identity.Session{User: f.sessionFor(email, acct).User}, nil
}

func (f *fakeProvider) ResendVerification(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resent = append(f.resent, email)
	return nil
}

func (f *fakeProvider) VerifyOTP(_ context.Context, sid, email, token string, typ identity.OTPType) (*identity.Session, error) {
	f.mu.Lock()
	acct, ok := f.accounts[email]
	if !ok || token != validOTP {
		f.mu.Unlock()
		return nil, identity.ErrInvalidOTP
	}
	acct.verified = true
	sess := f.sessionFor(email, acct)
	f.sessions[sid] = sess
	f.mu.Unlock()

	event := identity.EventSignedIn
	if typ == identity.OTPRecovery {
		event = identity.EventPasswordRecovery
	}
	f.emit(sid, event, sess)
	return sess, nil
}

func (f *fakeProvider) ResetPasswordForEmail(_ context.Context, email, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, email)
	return nil
}

func (f *fakeProvider) UpdatePassword(_ context.Context, sid, password string) error {
	f.mu.Lock()
	sess, ok := f.sessions[sid]
	if !ok {
		f.mu.Unlock()
		return identity.ErrNoSession
	}
	f.passwords[sess.User.Email] = password
	f.accounts[sess.User.Email].password = password
	f.mu.Unlock()

	f.emit(sid, identity.EventUserUpdated, sess)
	return nil
}

func (f *fakeProvider) SignOut(_ context.Context, sid string) error {
	f.mu.Lock()
	delete(f.sessions, sid)
	f.mu.Unlock()

	f.emit(sid, identity.EventSignedOut, nil)
	return nil
}

func (f *fakeProvider) Forget(_ context.Context, sid string) error {
	f.mu.Lock()
	delete(f.sessions, sid)
	f.mu.Unlock()

	f.emit(sid, identity.EventSignedOut, nil)
	return nil
}

func (f *fakeProvider) hasSession(sid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sid] != nil
}

func (f *fakeProvider) OnSessionChange(sid string, l identity.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners[sid] == nil {
		f.listeners[sid] = make(map[int]identity.Listener)
	}
	id := f.next
	f.next++
	f.listeners[sid][id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[sid], id)
	}
}

func (f *fakeProvider) emit(sid string, event identity.Event, sess *identity.Session) {
	f.mu.Lock()
	ls := make([]identity.Listener, 0, len(f.listeners[sid]))
	for _, l := range f.listeners[sid] {
		ls = append(ls, l)
	}
	f.mu.Unlock()

	for _, l := range ls {
		l(event, sess)
	}
}

func (f *fakeProvider) resentEmails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resent...)
}

func (f *fakeProvider) recoveredEmails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.recovered...)
}

func (f *fakeProvider) passwordFor(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwords[email]
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*db.Profile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*db.Profile)}
}

func (f *fakeProfiles) put(p db.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = &p
}

func (f *fakeProfiles) get(id string) (db.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return db.Profile{}, false
	}
	return *p, true
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*db.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) EnsureProfile(_ context.Context, userID, fullName string) (*db.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		p = &db.Profile{ID: userID}
		f.profiles[userID] = p
	}
	if fullName != "" {
		p.FullName = fullName
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) MarkOnboardingSeen(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return db.ErrNotFound
	}
	p.HasSeenOnboarding = true
	return nil
}

func (f *fakeProfiles) SetTwoFactor(_ context.Context, userID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return db.ErrNotFound
	}
	p.Is2FAEnabled = enabled
	return nil
}
