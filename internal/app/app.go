package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tradeshell/internal/auth"
	"tradeshell/internal/config"
	"tradeshell/internal/db"
	httpserver "tradeshell/internal/http"
	"tradeshell/internal/identity"
	"tradeshell/internal/session"
)

// Application wires together config, storage, the identity client and the HTTP server.
type Application struct {
	cfg      config.Config
	log      *zap.Logger
	dbPool   *db.Pool
	tokens   *identity.RedisTokens
	registry *session.Registry
	srv      *httpserver.Server

	// mu guards the sweeper against a Shutdown that races Start.
	mu          sync.Mutex
	closed      bool
	sweepCtx    context.Context
	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

func NewApplication(ctx context.Context, cfg config.Config, log *zap.Logger) (*Application, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Application{cfg: cfg, log: log}
	a.sweepCtx, a.sweepCancel = context.WithCancel(context.Background())
	checks := make(map[string]httpserver.Pinger)

	var profiles db.Profiles = db.NopProfiles{}
	if cfg.SupabaseDBURL != "" {
		pool, err := db.NewPool(ctx, cfg.SupabaseDBURL)
		if err != nil {
			a.sweepCancel()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.dbPool = pool
		profiles = db.NewProfileStore(pool)
		checks["postgres"] = pool
	} else {
		log.Warn("SUPABASE_DB_URL not set, profiles are unavailable and every user is treated as new")
	}

	var tokens identity.TokenStore = identity.NewMemoryTokens()
	if cfg.RedisURL != "" {
		redisTokens, err := identity.NewRedisTokens(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			a.sweepCancel()
			a.closeStores()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.tokens = redisTokens
		tokens = redisTokens
		checks["redis"] = redisTokens
	}

	client := identity.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, tokens, log)
	if warning := cfg.SetupWarning(); warning != "" {
		log.Warn(warning)
	}

	var oauth *auth.GoogleOAuth
	if cfg.GoogleConfigured() {
		var err error
		if oauth, err = auth.NewGoogleOAuth(cfg); err != nil {
			a.sweepCancel()
			a.closeStores()
			return nil, fmt.Errorf("google oauth: %w", err)
		}
	}

	a.registry = session.NewRegistry(client, profiles, cfg.SessionIdleTimeout, log)
	a.srv = httpserver.NewServer(cfg, httpserver.Deps{
		Registry: a.registry,
		Identity: client,
		Profiles: profiles,
		OAuth:    oauth,
		JWT:      auth.NewJWTManager(cfg.SessionSecret, cfg.SessionTTL),
		Checks:   checks,
		Logger:   log,
	})

	return a, nil
}

// Start runs the idle-session sweeper and serves HTTP until Shutdown. After
// Shutdown it returns immediately.
func (a *Application) Start() error {
	if !a.startSweeper() {
		return nil
	}

	a.log.Info("starting tradeshell",
		zap.String("port", a.cfg.Port),
		zap.Bool("identity_configured", a.cfg.IdentityConfigured()),
		zap.Bool("profiles", a.dbPool != nil),
		zap.Bool("redis_tokens", a.tokens != nil),
	)
	return a.srv.Start()
}

// Shutdown drains HTTP, stops the sweeper, tears down every session store
// and closes the storage connections.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.sweepCancel()
	a.sweepWG.Wait()
	a.registry.Close()
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// startSweeper reports false once Shutdown has begun.
func (a *Application) startSweeper() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	if a.cfg.SweepInterval > 0 && a.cfg.SessionIdleTimeout > 0 {
		a.sweepWG.Add(1)
		go func() {
			defer a.sweepWG.Done()
			a.registry.Run(a.sweepCtx, a.cfg.SweepInterval)
		}()
	}
	return true
}

func (a *Application) closeStores() error {
	var err error
	if a.tokens != nil {
		if cerr := a.tokens.Close(); cerr != nil {
			err = fmt.Errorf("close redis: %w", cerr)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	return err
}
