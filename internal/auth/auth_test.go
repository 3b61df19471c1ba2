package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"tradeshell/internal/config"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	now := time.Now()

	token, claims, err := m.Sign(now, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", claims.SessionID)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)

	parsed, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "sid-1", parsed.SessionID)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)

	_, err := m.Parse("")
	assert.Error(t, err)

	expired, _, err := m.Sign(time.Now().Add(-2*time.Hour), "sid-1")
	require.NoError(t, err)
	_, err = m.Parse(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	other := NewJWTManager("another-secret-another-secret-xx", time.Hour)
	forged, _, err := other.Sign(time.Now(), "sid-1")
	require.NoError(t, err)
	_, err = m.Parse(forged)
	assert.Error(t, err)

	_, _, err = m.Sign(time.Now(), "")
	assert.Error(t, err)
}

func TestSessionIDContext(t *testing.T) {
	_, ok := SessionIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSessionID(context.Background(), "")
	_, ok = SessionIDFromContext(ctx)
	assert.False(t, ok)

	sid, ok := SessionIDFromContext(WithSessionID(context.Background(), "sid-1"))
	assert.True(t, ok)
	assert.Equal(t, "sid-1", sid)
}

func TestNewGoogleOAuth_NotConfigured(t *testing.T) {
	_, err := NewGoogleOAuth(config.Config{})
	assert.ErrorIs(t, err, ErrGoogleNotConfigured)
}

func TestGoogleOAuth_AuthCodeURL(t *testing.T) {
	g, err := NewGoogleOAuth(config.Config{GoogleClientID: "client", GoogleClientSecret: "secret", Port: "8080"})
	require.NoError(t, err)

	u, err := url.Parse(g.AuthCodeURL("state-1"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "http://localhost:8080/auth/google/callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestGoogleOAuth_Exchange(t *testing.T) {
	idToken := "header.payload.sig"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 3600}
		if r.PostForm.Get("code") == "good" {
			resp["id_token"] = idToken
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := newGoogleOAuth("client", "secret", "http://localhost/cb", oauth2.Endpoint{
		AuthURL:   srv.URL + "/auth",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	})

	got, err := g.Exchange(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, idToken, got)

	_, err = g.Exchange(context.Background(), "no-id-token")
	assert.ErrorContains(t, err, "id_token")

	_, err = g.Exchange(context.Background(), " ")
	assert.Error(t, err)
}
