// Package gateway assembles the chatgate service: configuration, credential
// storage backend selection, the session lifecycle manager, authentication
// and the HTTP surface.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	// lib/pq registers the postgres driver.
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/chatgate/chatgate/pkg/auth"
	"github.com/chatgate/chatgate/pkg/credstore"
	credpg "github.com/chatgate/chatgate/pkg/credstore/postgres"
	credredis "github.com/chatgate/chatgate/pkg/credstore/redis"
	"github.com/chatgate/chatgate/pkg/database/migrate"
	"github.com/chatgate/chatgate/pkg/health"
	"github.com/chatgate/chatgate/pkg/httpapi"

	// docs registers the swagger spec served under /swagger/.
	_ "github.com/chatgate/chatgate/pkg/httpapi/docs"
	"github.com/chatgate/chatgate/pkg/manager"
	"github.com/chatgate/chatgate/pkg/middleware"
	"github.com/chatgate/chatgate/pkg/protocol"
	"github.com/chatgate/chatgate/pkg/registry"
	"github.com/chatgate/chatgate/pkg/users"
	userspg "github.com/chatgate/chatgate/pkg/users/postgres"

	"golang.org/x/time/rate"
)

// shutdownGrace bounds the HTTP server drain on shutdown.
const shutdownGrace = 10 * time.Second

// Gateway is the assembled service.
type Gateway struct {
	cfg *Config

	db        *sql.DB
	redis     *goredis.Client
	credStore credstore.Store
	userStore users.Store

	reg     *registry.Registry
	mgr     *manager.Manager
	limiter *middleware.RateLimiter
	checker *health.Checker

	server *http.Server
}

// New assembles a gateway from configuration and a protocol dialer. The
// dialer is injected so deployments can bind any protocol client library
// with an equivalent auth-state interface.
func New(cfg *Config, dialer protocol.Dialer) (*Gateway, error) {
	g := &Gateway{cfg: cfg, reg: registry.New()}

	if err := g.initStores(); err != nil {
		g.closeStores()
		return nil, err
	}

	g.mgr = manager.New(g.credStore, g.reg, dialer, manager.Config{
		PairingTimeout:     cfg.Sessions.PairingTimeout,
		ShutdownTimeout:    cfg.Sessions.ShutdownTimeout,
		StatusPollInterval: cfg.Sessions.StatusPollInterval,
		PurgeOnDelete:      !cfg.Sessions.RetainOnDelete,
		CooldownMin:        cfg.Sessions.Cooldown.Min,
		CooldownMax:        cfg.Sessions.Cooldown.Max,
		IdleTTL:            cfg.Sessions.IdleTTL,
		ReapInterval:       cfg.Sessions.ReapInterval,
	})

	g.checker = health.NewChecker(g.reg.Len)

	g.server = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           g.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Manager exposes the lifecycle manager, mainly for tests and embedding.
func (g *Gateway) Manager() *manager.Manager {
	return g.mgr
}

// Handler exposes the assembled HTTP handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// initStores constructs the credential and account stores selected by
// configuration.
func (g *Gateway) initStores() error {
	switch g.cfg.Storage.Backend {
	case BackendMemory:
		g.credStore = credstore.NewMemoryStore()
		g.userStore = users.NewMemoryStore()

	case BackendFile:
		fs, err := credstore.NewFileStore(g.cfg.Storage.File.Root)
		if err != nil {
			return fmt.Errorf("creating file store: %w", err)
		}
		g.credStore = fs
		// Accounts have no filesystem layout; they stay in memory and
		// sessions keep their owner binding in the credential record.
		g.userStore = users.NewMemoryStore()

	case BackendPostgres:
		db, err := sql.Open("postgres", g.cfg.Storage.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(g.cfg.Storage.Postgres.MaxOpenConns)
		g.db = db

		if g.cfg.Storage.Postgres.Migrate {
			if err := migrate.Run(db); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
		}
		g.credStore = credpg.New(db)
		g.userStore = userspg.New(db)

	case BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     g.cfg.Storage.Redis.Addr,
			Password: g.cfg.Storage.Redis.Password,
			DB:       g.cfg.Storage.Redis.DB,
		})
		g.redis = client

		store, err := credredis.New(credredis.Config{
			Client:    client,
			KeyPrefix: g.cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("creating redis store: %w", err)
		}
		g.credStore = store
		g.userStore = users.NewMemoryStore()

	default:
		return fmt.Errorf("unknown storage backend %q", g.cfg.Storage.Backend)
	}
	return nil
}

// buildHandler assembles the mux and middleware chain.
func (g *Gateway) buildHandler() http.Handler {
	svc := users.NewService(g.userStore)
	api := httpapi.New(g.mgr, svc)

	authenticators := []auth.Authenticator{auth.NewAPIKeyAuthenticator(svc)}
	if g.cfg.Auth.JWT.Enabled {
		authenticators = append(authenticators, auth.NewJWTAuthenticator(auth.JWTConfig{
			SigningKey: []byte(g.cfg.Auth.JWT.SigningKey),
			Issuer:     g.cfg.Auth.JWT.Issuer,
		}))
	}
	chained := auth.NewChainedAuthenticator(auth.ChainedAuthConfig{
		AllowAnonymous: !g.cfg.Auth.Enabled,
	}, authenticators...)

	chain := middleware.NewChain(middleware.RequestID(), middleware.Logging())
	if g.cfg.RateLimit.Enabled {
		g.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   rate.Limit(g.cfg.RateLimit.RPS),
			Burst: g.cfg.RateLimit.Burst,
		})
		chain.Use(g.limiter.Middleware())
	}

	mux := http.NewServeMux()
	api.Routes(mux, middleware.Auth(chained))

	mux.HandleFunc("GET /healthz", g.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", g.checker.ReadinessHandler())
	mux.Handle("/swagger/", httpSwagger.Handler())

	if g.cfg.Server.PublicDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(g.cfg.Server.PublicDir)))
	}

	// Health endpoints sit outside the rate limit; everything under /api/
	// goes through the full chain.
	root := http.NewServeMux()
	root.Handle("/api/", chain.Wrap(mux))
	root.Handle("/", middleware.NewChain(middleware.RequestID(), middleware.Logging()).Wrap(mux))

	return root
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. Shutdown is graceful: draining is reported on /readyz, the
// listener stops, and every live session is disconnected with credentials
// retained.
func (g *Gateway) Run(ctx context.Context) error {
	g.mgr.StartReaper()
	g.checker.SetReady()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "address", g.cfg.Server.Address, "backend", g.cfg.Storage.Backend)
		var err error
		if g.cfg.Server.TLS.Enabled {
			err = g.server.ListenAndServeTLS(g.cfg.Server.TLS.CertFile, g.cfg.Server.TLS.KeyFile)
		} else {
			err = g.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	g.checker.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	return g.Close()
}

// Close tears down live sessions and releases every backend resource. It is
// safe to call after Run returns.
func (g *Gateway) Close() error {
	var errs []error

	if g.mgr != nil {
		errs = append(errs, g.mgr.Close())
	}
	if g.limiter != nil {
		g.limiter.Close()
	}
	errs = append(errs, g.closeStores())
	return errors.Join(errs...)
}

func (g *Gateway) closeStores() error {
	var errs []error

	if g.credStore != nil {
		errs = append(errs, g.credStore.Close())
		g.credStore = nil
	}
	if g.userStore != nil {
		errs = append(errs, g.userStore.Close())
		g.userStore = nil
	}
	if g.db != nil {
		errs = append(errs, g.db.Close())
		g.db = nil
	}
	if g.redis != nil {
		errs = append(errs, g.redis.Close())
		g.redis = nil
	}
	return errors.Join(errs...)
}
