package http

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradeshell/internal/auth"
	"tradeshell/internal/config"
	"tradeshell/internal/db"
	"tradeshell/internal/identity"
	"tradeshell/internal/session"
)

// Pinger is a dependency reported by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Registry *session.Registry
	Identity identity.Provider
	Profiles db.Profiles
	OAuth    *auth.GoogleOAuth
	JWT      *auth.JWTManager
	Checks   map[string]Pinger
	Logger   *zap.Logger
}

type Server struct {
	cfg          config.Config
	router       chi.Router
	httpServer   *http.Server
	registry     *session.Registry
	identity     identity.Provider
	profiles     db.Profiles
	oauth        *auth.GoogleOAuth
	jwt          *auth.JWTManager
	checks       map[string]Pinger
	log          *zap.Logger
	stateCookie  string
	secureCookie bool
	limiter      *rateLimiter
	newSessions  *rateLimiter
	now          func() time.Time
}

func NewServer(cfg config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	profiles := deps.Profiles
	if profiles == nil {
		profiles = db.NopProfiles{}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)

	origin := strings.TrimSuffix(cfg.FrontendURL, "/")
	if origin == "" {
		origin = "http://localhost:3000"
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	server := &Server{
		cfg:          cfg,
		router:       router,
		registry:     deps.Registry,
		identity:     deps.Identity,
		profiles:     profiles,
		oauth:        deps.OAuth,
		jwt:          deps.JWT,
		checks:       deps.Checks,
		log:          log.Named("http"),
		stateCookie:  "tradeshell_oauth_state",
		secureCookie: strings.HasPrefix(strings.ToLower(cfg.FrontendURL), "https://"),
		limiter:      newRateLimiter(cfg.RateLimitRPS),
		newSessions:  newRateLimiter(cfg.NewSessionRPS),
		now:          time.Now,
	}

	server.registerRoutes()
	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Get("/api/session", s.handleSession)
		r.Get("/api/nav", s.handleNav)
		r.Post("/api/onboarding/complete", s.handleOnboardingComplete)
		r.Post("/api/settings/2fa", s.handleTwoFactor)

		r.Route("/auth", func(r chi.Router) {
			r.Use(s.rateLimitMiddleware())
			r.Post("/login", s.handleLogin)
			r.Post("/signup", s.handleSignup)
			r.Post("/otp/verify", s.handleVerifyOTP)
			r.Post("/otp/resend", s.handleResendOTP)
			r.Post("/password/forgot", s.handleForgotPassword)
			r.Post("/password/reset", s.handleResetPassword)
			r.Post("/logout", s.handleLogout)
			r.Get("/google/start", s.handleGoogleStart)
			r.Get("/google/callback", s.handleGoogleCallback)
		})

		s.registerPages(r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = "degraded"
			continue
		}
		deps[name] = "up"
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"dependencies": deps,
		"sessions":     s.registry.Len(),
	})
}

func (s *Server) Start() error {
	s.log.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setSessionCookie writes the session cookie with attributes suitable for cross-site usage.
// Over HTTPS the cookie is SameSite=None; Secure and Partitioned (CHIPS).
func (s *Server) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	sameSite := http.SameSiteLaxMode
	if s.secureCookie {
		sameSite = http.SameSiteNoneMode
	}

	http.SetCookie(w, &http.Cookie{
		Name:        s.cfg.SessionCookieName,
		Value:       value,
		Path:        "/",
		HttpOnly:    true,
		Secure:      s.secureCookie,
		SameSite:    sameSite,
		Expires:     expires,
		Partitioned: s.secureCookie,
	})
}

func (s *Server) validateState(r *http.Request, state string) bool {
	cookie, err := r.Cookie(s.stateCookie)
	if err != nil {
		return false
	}
	return cookie.Value != "" && cookie.Value == state
}

func (s *Server) setStateCookie(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.stateCookie,
		Value:    state,
		Path:     "/auth/google",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(5 * time.Minute),
	})
}

func (s *Server) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.stateCookie,
		Value:    "",
		Path:     "/auth/google",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
