// Package app wires all mycelial mesh subsystems into a running application.
//
// App owns the full lifecycle: New creates and connects the Graph Store, the
// Propagation Controller, the Hyphal Memory Engine, the Reinforcement Engine
// (plus its background decay task), the rate limiter, and the HTTP
// transport. Run starts the gin engine and the decay task; Shutdown tears
// everything down in reverse order. This mirrors the teacher's
// internal/app.App shape — functional options for test injection, ordered
// shutdown — repointed at the mesh's own subsystems instead of the voice
// pipeline's providers.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"crypto/ed25519"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mycelialmesh/meshcore/internal/auth"
	"github.com/mycelialmesh/meshcore/internal/config"
	"github.com/mycelialmesh/meshcore/internal/cryptoutil"
	"github.com/mycelialmesh/meshcore/internal/health"
	"github.com/mycelialmesh/meshcore/internal/httpapi"
	"github.com/mycelialmesh/meshcore/internal/hyphalmemory"
	"github.com/mycelialmesh/meshcore/internal/observe"
	"github.com/mycelialmesh/meshcore/internal/propagation"
	"github.com/mycelialmesh/meshcore/internal/ratelimit"
	"github.com/mycelialmesh/meshcore/internal/reinforcement"
	"github.com/mycelialmesh/meshcore/pkg/mesh"
	"github.com/mycelialmesh/meshcore/pkg/mesh/postgres"
)

// Option configures an App at construction time, primarily so tests can
// inject fakes in place of the Postgres/Redis-backed defaults.
type Option func(*options)

type options struct {
	store    mesh.GraphStore
	keyStore auth.KeyStore
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// WithGraphStore injects a [mesh.GraphStore], bypassing Postgres.
func WithGraphStore(store mesh.GraphStore) Option {
	return func(o *options) { o.store = store }
}

// WithKeyStore injects an [auth.KeyStore], bypassing Postgres. Required
// alongside WithGraphStore, since the default key store is backed by the
// same Postgres pool as the graph store.
func WithKeyStore(ks auth.KeyStore) Option {
	return func(o *options) { o.keyStore = ks }
}

// WithLimiter injects a [ratelimit.Limiter], bypassing Redis.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithLogger sets the base logger used by every subsystem. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// App owns every mesh subsystem's lifetime and exposes the HTTP server that
// fronts them.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store       mesh.GraphStore
	storeConn   *postgres.Store // non-nil only when New opened it; closed on Shutdown
	limiter     *ratelimit.Limiter
	ownsLimiter bool

	propagate *propagation.Controller
	reinforce *reinforcement.Engine
	memory    *hyphalmemory.Engine
	decay     *reinforcement.DecayTask
	resolver  *auth.Resolver
	aead      *cryptoutil.AEAD
	signer    *cryptoutil.Signer

	httpServer *http.Server
	engine     *gin.Engine
}

// New builds an App from cfg, opening the Postgres graph store and Redis
// rate limiter unless overridden by opts. Callers own the returned App's
// Shutdown.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: o.logger}

	if o.store != nil {
		a.store = o.store
	} else {
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:                 cfg.Store.PostgresDSN,
			EmbeddingDimensions: cfg.Store.EmbeddingDimensions,
			MinConns:            cfg.Store.MinConns,
			MaxConns:            cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open graph store: %w", err)
		}
		a.store = store
		a.storeConn = store
	}

	var keyStore auth.KeyStore
	switch {
	case o.keyStore != nil:
		keyStore = o.keyStore
	case a.storeConn != nil:
		keyStore = postgres.NewKeyStore(a.storeConn)
	default:
		a.closePartial()
		return nil, errors.New("app: no key store available; pass WithKeyStore alongside WithGraphStore")
	}
	a.resolver = auth.NewResolver(keyStore)

	if o.limiter != nil {
		a.limiter = o.limiter
	} else {
		limiter, err := ratelimit.New(cfg.RateLimit.RedisURL, o.logger)
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("app: open rate limiter: %w", err)
		}
		a.limiter = limiter
		a.ownsLimiter = true
	}

	quota := ratelimit.QuotaAdapter{
		Limiter:        a.limiter,
		LimitPerMinute: cfg.RateLimit.DefaultQuotaPerMinute,
	}
	a.propagate = propagation.New(a.store, quota)
	a.reinforce = reinforcement.New(a.store, reinforcement.PlasticityParams{})
	a.memory = hyphalmemory.New(a.store, o.logger)
	a.decay = reinforcement.NewDecayTask(a.store, reinforcement.DecayParams{}, o.logger)

	if cfg.Security.AEADSecret != "" {
		a.aead = cryptoutil.NewAEAD([]byte(cfg.Security.AEADSecret))
	}
	if cfg.Security.SigningSeedHex != "" {
		signer, err := signerFromHexSeed(cfg.Security.SigningSeedHex)
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("app: build signer: %w", err)
		}
		a.signer = signer
	}

	a.buildHTTPServer()
	return a, nil
}

// signerFromHexSeed decodes a 64-character hex Ed25519 seed and derives the
// full key pair cryptoutil.Signer wraps.
func signerFromHexSeed(seedHex string) (*cryptoutil.Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode hex seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return cryptoutil.NewSigner(priv, pub), nil
}

// closePartial releases whatever New has already opened when a later step
// of construction fails, so a failed New never leaks a connection pool.
func (a *App) closePartial() {
	if a.ownsLimiter && a.limiter != nil {
		a.limiter.Close()
	}
	if a.storeConn != nil {
		a.storeConn.Close()
	}
}

// buildHTTPServer constructs the gin engine, registers the mesh's v1 routes
// plus /health and /metrics, wraps the whole chain in the OTel HTTP
// middleware, and wraps that in an *http.Server with the connect/read
// deadlines spec §5 calls for.
func (a *App) buildHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	checker := health.New(health.Checker{
		Name:  "graph_store",
		Check: a.store.Ping,
	})
	engine.GET("/health", func(c *gin.Context) { checker.Readyz(c.Writer, c.Request) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Store:     a.store,
		Propagate: a.propagate,
		Reinforce: a.reinforce,
		Memory:    a.memory,
		Decay:     a.decay,
		Resolver:  a.resolver,
		Limiter:   a.limiter,
		Logger:    a.logger,
	})

	a.engine = engine
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(engine),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run starts the background decay task and blocks serving HTTP until the
// listener fails or is closed by Shutdown. http.ErrServerClosed is the
// expected exit path after Shutdown.
func (a *App) Run(ctx context.Context) error {
	a.decay.Start(ctx)
	a.logger.Info("mesh server starting", "listen_addr", a.cfg.Server.ListenAddr)
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, the decay task, and releases the graph
// store/rate limiter connections this App opened itself, in reverse
// dependency order.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	a.decay.Stop()
	a.closePartial()
	return firstErr
}

// Engine exposes the underlying gin engine for tests that want to drive
// requests with httptest without opening a real listener.
func (a *App) Engine() *gin.Engine { return a.engine }
