package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradeshell/internal/auth"
	"tradeshell/internal/identity"
	"tradeshell/internal/session"
)

type entryKey struct{}

// requestLogger logs one line per request once the response is written.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("access")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_ip", clientIPAddress(r.RemoteAddr)),
			}
			if status >= http.StatusInternalServerError {
				log.Error("request", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}

// withSession attaches the visitor's browser session, issuing a new session
// cookie when the request carries none or an invalid one. New sessions are
// rate limited per client IP.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionIDFromRequest(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
		if sid == "" {
			if key := "ip:" + clientIPAddress(r.RemoteAddr); !s.newSessions.Allow(key, s.now()) {
				s.log.Warn("new session rate limit exceeded", zap.String("key", key))
				w.Header().Set("Retry-After", "1")
				s.writeError(w, http.StatusTooManyRequests, errors.New("too many new sessions"))
				return
			}
			sid = newSessionID()
			if err := s.issueSessionCookie(w, sid); err != nil {
				s.writeError(w, http.StatusInternalServerError, err)
				return
			}
		}

		entry := s.registry.Acquire(sid)
		ctx := auth.WithSessionID(r.Context(), sid)
		ctx = context.WithValue(ctx, entryKey{}, entry)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newSessionID() string {
	return uuid.NewString()
}

func (s *Server) issueSessionCookie(w http.ResponseWriter, sid string) error {
	token, claims, err := s.jwt.Sign(s.now(), sid)
	if err != nil {
		return err
	}
	s.setSessionCookie(w, token, claims.ExpiresAt.Time)
	return nil
}

// rotateSession moves the visitor onto sid, whose tokens were just stored by a
// successful sign-in. The previous session id stops carrying any tokens and
// its store is released, so an id known before sign-in never becomes
// authenticated.
func (s *Server) rotateSession(w http.ResponseWriter, r *http.Request, sid string) (*session.Entry, error) {
	ctx := r.Context()
	if err := s.issueSessionCookie(w, sid); err != nil {
		s.forget(ctx, sid)
		return nil, err
	}
	entry := s.registry.Acquire(sid)

	if old, ok := auth.SessionIDFromContext(ctx); ok && old != sid {
		s.forget(ctx, old)
		s.registry.Release(old)
	}
	return entry, nil
}

func (s *Server) forget(ctx context.Context, sid string) {
	if err := s.identity.Forget(ctx, sid); err != nil && !errors.Is(err, identity.ErrNotConfigured) {
		s.log.Warn("failed to forget session tokens", zap.String("sid", sid), zap.Error(err))
	}
}

// sessionIDFromRequest reads the session id from the cookie, falling back to
// an Authorization bearer token. A bad cookie is treated as absent; a bad
// bearer token is an error.
func (s *Server) sessionIDFromRequest(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(s.cfg.SessionCookieName); err == nil && cookie.Value != "" {
		if claims, err := s.jwt.Parse(cookie.Value); err == nil {
			return claims.SessionID, nil
		}
	}

	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if token != "" {
			claims, err := s.jwt.Parse(token)
			if err != nil {
				return "", errors.New("invalid session token")
			}
			return claims.SessionID, nil
		}
	}

	return "", nil
}

func entryFromContext(ctx context.Context) *session.Entry {
	e, _ := ctx.Value(entryKey{}).(*session.Entry)
	return e
}

func (s *Server) rateLimitMiddleware() func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := "ip:" + clientIPAddress(r.RemoteAddr)
			if !s.limiter.Allow(key, s.now()) {
				s.log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", r.URL.Path))
				s.writeJSON(w, http.StatusTooManyRequests, authResult{Error: "Too many attempts, please try again later"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
