package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tradeshell/internal/metrics"
)

const (
	maxResponseBytes = 1 << 20
	refreshMargin    = 30 * time.Second
	refreshTimeout   = 15 * time.Second
	breakerName      = "supabase-auth"
)

type response struct {
	status int
	body   []byte
}

// SupabaseClient talks to Supabase GoTrue over its REST API.
type SupabaseClient struct {
	projectURL string
	baseURL    string
	anonKey    string
	httpClient *http.Client
	tokens     TokenStore
	events     *hub
	breaker    *gobreaker.CircuitBreaker[*response]
	refreshes  singleflight.Group
	log        *zap.Logger
	now        func() time.Time
}

var _ Provider = (*SupabaseClient)(nil)

// NewSupabaseClient builds a client for the project at projectURL. An empty URL
// or key yields a client whose calls fail with ErrNotConfigured.
func NewSupabaseClient(projectURL, anonKey string, tokens TokenStore, log *zap.Logger) *SupabaseClient {
	if tokens == nil {
		tokens = NewMemoryTokens()
	}
	if log == nil {
		log = zap.NewNop()
	}
	projectURL = strings.TrimSuffix(projectURL, "/")

	c := &SupabaseClient{
		projectURL: projectURL,
		baseURL:    fmt.Sprintf("%s/auth/v1", projectURL),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		events:     newHub(),
		log:        log.Named("identity"),
		now:        time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.IdentityBreakerState.WithLabelValues(name).Set(float64(to))
			c.log.Warn("identity circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Configured reports whether both the project URL and anon key are present.
func (c *SupabaseClient) Configured() bool {
	return c.projectURL != "" && c.anonKey != ""
}

func (c *SupabaseClient) OnSessionChange(sid string, l Listener) func() {
	return c.events.subscribe(sid, l)
}

// GetSession returns the current session for sid, refreshing an expiring
// access token first. It returns nil, nil when the visitor is signed out.
func (c *SupabaseClient) GetSession(ctx context.Context, sid string) (*Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	sess, err := c.current(ctx, sid)
	if err != nil || sess == nil {
		return nil, err
	}

	user, err := c.getUser(ctx, sess.AccessToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.drop(ctx, sid)
			return nil, nil
		}
		return nil, err
	}
	out := *sess
	out.User = user
	return &out, nil
}

func (c *SupabaseClient) SignIn(ctx context.Context, sid, email, password string) (*Session, error) {
	body, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, sid, EventSignedIn, body)
}

// SignInWithIDToken exchanges an OpenID Connect id token from provider (for
// example "google") for a session.
func (c *SupabaseClient) SignInWithIDToken(ctx context.Context, sid, provider, idToken string) (*Session, error) {
	body, err := c.do(ctx, http.MethodPost, "/token?grant_type=id_token", "", map[string]string{
		"provider": provider,
		"id_token": idToken,
	})
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, sid, EventSignedIn, body)
}

// SignUp registers a new user. When the project requires email confirmation the
// returned session carries the user but no tokens.
func (c *SupabaseClient) SignUp(ctx context.Context, sid, email, password, fullName string) (*Session, error) {
	body, err := c.do(ctx, http.MethodPost, "/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"full_name": fullName},
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Session
		ID               string         `json:"id"`
		Email            string         `json:"email"`
		EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
		UserMetadata     map[string]any `json:"user_metadata"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode signup response: %w", err)
	}

	if out.AccessToken != "" {
		return c.establish(ctx, sid, EventSignedIn, body)
	}
	return &Session{User: &User{
		ID:               out.ID,
		Email:            out.Email,
		EmailConfirmedAt: out.EmailConfirmedAt,
		UserMetadata:     out.UserMetadata,
	}}, nil
}

func (c *SupabaseClient) ResendVerification(ctx context.Context, email string) error {
	_, err := c.do(ctx, http.MethodPost, "/resend", "", map[string]string{
		"type":  string(OTPSignup),
		"email": email,
	})
	return err
}

// VerifyOTP checks a one-time code sent by email and signs the visitor in.
func (c *SupabaseClient) VerifyOTP(ctx context.Context, sid, email, token string, typ OTPType) (*Session, error) {
	body, err := c.do(ctx, http.MethodPost, "/verify", "", map[string]string{
		"type":  string(typ),
		"email": email,
		"token": token,
	})
	if err != nil {
		return nil, err
	}

	event := EventSignedIn
	if typ == OTPRecovery {
		event = EventPasswordRecovery
	}
	return c.establish(ctx, sid, event, body)
}

func (c *SupabaseClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}
	_, err := c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email})
	return err
}

// UpdatePassword changes the password of the user signed in on sid.
func (c *SupabaseClient) UpdatePassword(ctx context.Context, sid, password string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	sess, err := c.current(ctx, sid)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNoSession
	}

	body, err := c.do(ctx, http.MethodPut, "/user", sess.AccessToken, map[string]string{"password": password})
	if err != nil {
		return err
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	updated := *sess
	updated.User = &user
	if err := c.tokens.Save(ctx, sid, &updated); err != nil {
		return err
	}
	c.events.emit(sid, EventUserUpdated, &updated)
	return nil
}

// SignOut revokes the session remotely when possible and always forgets it locally.
func (c *SupabaseClient) SignOut(ctx context.Context, sid string) error {
	sess, err := c.tokens.Load(ctx, sid)
	if err != nil {
		return err
	}
	if sess.Active() && c.Configured() {
		if _, err := c.do(ctx, http.MethodPost, "/logout", sess.AccessToken, nil); err != nil {
			c.log.Warn("remote sign-out failed", zap.String("sid", sid), zap.Error(err))
		}
	}
	if err := c.tokens.Delete(ctx, sid); err != nil {
		return err
	}
	c.events.emit(sid, EventSignedOut, nil)
	return nil
}

// Forget discards the tokens stored for sid without revoking them upstream,
// for a browser session that was replaced by a new one.
func (c *SupabaseClient) Forget(ctx context.Context, sid string) error {
	if err := c.tokens.Delete(ctx, sid); err != nil {
		return err
	}
	c.events.emit(sid, EventSignedOut, nil)
	return nil
}

func (c *SupabaseClient) getUser(ctx context.Context, accessToken string) (*User, error) {
	body, err := c.do(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// current loads the stored tokens for sid and refreshes them when they are
// about to expire.
func (c *SupabaseClient) current(ctx context.Context, sid string) (*Session, error) {
	sess, err := c.tokens.Load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, nil
	}
	if !sess.expiresWithin(c.now(), refreshMargin) {
		return sess, nil
	}
	return c.refresh(ctx, sid, sess.RefreshToken)
}

// refresh swaps the refresh token for a new session. Refresh tokens are
// single-use, so concurrent callers for the same sid share one request. The
// shared request is detached from the caller that started it; a caller whose
// ctx ends stops waiting but does not cancel it for the others.
func (c *SupabaseClient) refresh(ctx context.Context, sid, refreshToken string) (*Session, error) {
	ch := c.refreshes.DoChan(sid, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		latest, err := c.tokens.Load(ctx, sid)
		if err != nil {
			return nil, err
		}
		if !latest.Active() {
			return nil, nil
		}
		if latest.RefreshToken != refreshToken && !latest.expiresWithin(c.now(), refreshMargin) {
			return latest, nil
		}

		body, err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
			"refresh_token": latest.RefreshToken,
		})
		if err != nil {
			if IsTransient(err) || errors.Is(err, ErrNotConfigured) {
				return nil, err
			}
			c.log.Info("refresh token rejected, signing out", zap.String("sid", sid), zap.Error(err))
			c.drop(ctx, sid)
			return nil, nil
		}
		return c.establish(ctx, sid, EventTokenRefreshed, body)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sess, _ := res.Val.(*Session)
		return sess, nil
	}
}

func (c *SupabaseClient) establish(ctx context.Context, sid string, event Event, body []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !sess.Active() {
		return nil, errors.New("identity provider returned no access token")
	}
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = c.now().Add(time.Duration(sess.ExpiresIn) * time.Second).Unix()
	}

	if err := c.tokens.Save(ctx, sid, &sess); err != nil {
		return nil, err
	}
	c.events.emit(sid, event, &sess)
	return &sess, nil
}

func (c *SupabaseClient) drop(ctx context.Context, sid string) {
	if err := c.tokens.Delete(ctx, sid); err != nil {
		c.log.Warn("failed to delete tokens", zap.String("sid", sid), zap.Error(err))
	}
	c.events.emit(sid, EventSignedOut, nil)
}

func (c *SupabaseClient) do(ctx context.Context, method, path, accessToken string, payload any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var data []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		data = encoded
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		bearer := accessToken
		if bearer == "" {
			bearer = c.anonKey
		}
		req.Header.Set("apikey", c.anonKey)
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		out := &response{status: res.StatusCode, body: body}
		if res.StatusCode >= http.StatusInternalServerError {
			return out, parseAuthError(res.StatusCode, body)
		}
		return out, nil
	})
	if err != nil {
		var authErr *AuthError
		switch {
		case errors.As(err, &authErr):
			return nil, authErr
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if resp.status >= http.StatusBadRequest {
		return nil, parseAuthError(resp.status, resp.body)
	}
	return resp.body, nil
}
