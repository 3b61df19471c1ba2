// Package identity is the client for the hosted identity provider (Supabase
// GoTrue). It owns the provider tokens of every browser session and pushes
// session change events to subscribers.
package identity

import (
	"context"
	"time"
)

// User is the provider's identity record.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

// FullName returns the name captured at sign-up, if any.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok {
		return name
	}
	return ""
}

// Session is the provider's token bundle. Only this package interprets it.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user,omitempty"`
}

// Active reports whether the bundle carries usable tokens. A sign-up that still
// awaits email confirmation returns a user without tokens.
func (s *Session) Active() bool {
	return s != nil && s.AccessToken != ""
}

// expiresWithin reports whether the access token is expired or about to be.
func (s *Session) expiresWithin(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(margin).Unix() >= s.ExpiresAt
}

// Event names a session change, using the provider's vocabulary.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// Listener receives session changes for one browser session. session is nil
// after sign-out.
type Listener func(event Event, session *Session)

// OTPType selects which one-time code is being verified.
type OTPType string

const (
	OTPSignup   OTPType = "signup"
	OTPEmail    OTPType = "email"
	OTPRecovery OTPType = "recovery"
)

// Provider is the identity surface the rest of the shell consumes. Every
// session-scoped call takes the browser session id.
type Provider interface {
	GetSession(ctx context.Context, sid string) (*Session, error)
	SignIn(ctx context.Context, sid, email, password string) (*Session, error)
	SignInWithIDToken(ctx context.Context, sid, provider, idToken string) (*Session, error)
	SignUp(ctx context.Context, sid, email, password, fullName string) (*Session, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, sid, email, token string, typ OTPType) (*Session, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, sid, password string) error
	SignOut(ctx context.Context, sid string) error
	Forget(ctx context.Context, sid string) error
	OnSessionChange(sid string, l Listener) (unsubscribe func())
}
