// Package app wires the Shopify store MCP server together.
//
// The App struct owns the full lifecycle: New opens the operation log,
// builds the Admin API client, resolves the rate limit tier and registers
// the tools. Run serves MCP over the configured transport, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithExecutor,
// WithStore, WithTransferer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/shopify-store-mcp/internal/config"
	"github.com/MrWong99/shopify-store-mcp/internal/health"
	"github.com/MrWong99/shopify-store-mcp/internal/mcp"
	"github.com/MrWong99/shopify-store-mcp/internal/mcp/server"
	"github.com/MrWong99/shopify-store-mcp/internal/observe"
	"github.com/MrWong99/shopify-store-mcp/internal/oplog"
	"github.com/MrWong99/shopify-store-mcp/internal/persist"
	"github.com/MrWong99/shopify-store-mcp/internal/persist/postgres"
	"github.com/MrWong99/shopify-store-mcp/internal/persist/sqlite"
	"github.com/MrWong99/shopify-store-mcp/internal/ratelimit"
	"github.com/MrWong99/shopify-store-mcp/internal/resilience"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
	"github.com/MrWong99/shopify-store-mcp/internal/workflow"
)

// MCPPath is the route of the streamable-http endpoint.
const MCPPath = "/mcp"

// startupCheckDoc is the query sent by [App.Check].
const startupCheckDoc = `query StartupCheck { shop { name } }`

// httpShutdownTimeout bounds the graceful stop of the HTTP listeners.
const httpShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes of the server.
type App struct {
	cfg      *config.Config
	version  string
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	exec       shopify.Executor
	client     *shopify.HTTPClient
	transferer shopify.Transferer
	store      persist.Store
	sink       *oplog.Sink
	queue      *ratelimit.Queue
	runner     *workflow.Runner
	server     *server.Server

	tierSource string

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithExecutor injects an Admin API executor instead of creating an HTTP
// client from config.
func WithExecutor(e shopify.Executor) Option {
	return func(a *App) { a.exec = e }
}

// WithStore injects an operation store instead of opening one from config.
// The store is not closed by Shutdown.
func WithStore(s persist.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTransferer injects the staged upload transport.
func WithTransferer(t shopify.Transferer) Option {
	return func(a *App) { a.transferer = t }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level variable of the process logger so that
// log level changes can be applied live.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: operation store
// connection and retention purge, Admin API client construction, tier
// resolution and tool registration. It does not contact Shopify; call
// [App.Check] for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}

	// ── 1. Admin API client ──────────────────────────────────────────────
	if err := a.initClient(); err != nil {
		return nil, fmt.Errorf("app: init shopify client: %w", err)
	}

	// ── 2. Operation store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("app: init oplog store: %w", err)
	}

	// ── 3. Operation log sink ────────────────────────────────────────────
	a.initSink()

	// ── 4. Request queue ─────────────────────────────────────────────────
	a.initQueue(ctx)

	// ── 5. Workflows + MCP server ────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initClient() error {
	if a.exec != nil {
		return nil
	}
	client, err := shopify.NewHTTPClient(shopify.ClientConfig{
		StoreDomain: a.cfg.Shopify.StoreURL,
		AccessToken: a.cfg.Shopify.AccessToken,
		APIVersion:  a.cfg.Shopify.APIVersion,
		Timeout:     a.cfg.Shopify.Timeout,
	}, shopify.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.client = client
	a.exec = client
	slog.Debug("shopify client ready", "endpoint", client.Endpoint())
	return nil
}

// initStore opens the configured backend and purges expired operations. A
// disabled operation log leaves the store nil.
func (a *App) initStore(ctx context.Context) error {
	o := a.cfg.Oplog
	if a.store == nil {
		if !o.IsEnabled() {
			slog.Info("operation log disabled")
			return nil
		}
		store, err := openStore(ctx, o)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		slog.Info("operation log opened", "driver", o.Driver)
	}

	if o.RetentionDays > 0 {
		cutoff := time.Now().Add(-o.Retention())
		n, err := a.store.PurgeBefore(ctx, cutoff)
		if err != nil {
			slog.Warn("operation log purge failed", "err", err)
		} else if n > 0 {
			slog.Info("purged old operations", "count", n, "retention_days", o.RetentionDays)
		}
	}
	return nil
}

func openStore(ctx context.Context, o config.OplogConfig) (persist.Store, error) {
	switch o.Driver {
	case config.DriverPostgres:
		return postgres.NewStore(ctx, o.DSN)
	case config.DriverMemory:
		return persist.NewMemoryStore(), nil
	default:
		return sqlite.Open(ctx, o.DSN)
	}
}

func (a *App) initSink() {
	if a.store == nil {
		return
	}
	opts := []oplog.Option{
		oplog.WithStoreDomain(a.cfg.Shopify.StoreURL),
		oplog.WithMetrics(a.metrics),
	}
	if n := a.cfg.Oplog.BufferSize; n > 0 {
		opts = append(opts, oplog.WithBufferSize(n))
	}
	if p := a.cfg.Oplog.SpillFile; p != "" {
		opts = append(opts, oplog.WithSpillFile(p))
	}
	a.sink = oplog.NewSink(oplog.StoreWriter{Store: a.store}, opts...)
	// The sink drains before the store closes.
	a.closers = append([]func(context.Context) error{a.sink.Close}, a.closers...)
}

// initQueue resolves the tier (stored > configured > STANDARD) and starts
// the request queue.
func (a *App) initQueue(ctx context.Context) {
	tier, source := ratelimit.TierStandard, "default"
	if a.cfg.Shopify.Tier != "" {
		if t, err := ratelimit.ParseTier(a.cfg.Shopify.Tier); err == nil {
			tier, source = t, "config"
		}
	}
	if a.store != nil {
		sc, found, err := a.store.LoadStoreConfig(ctx, a.cfg.Shopify.StoreURL)
		switch {
		case err != nil:
			slog.Warn("load stored tier failed", "err", err)
		case found:
			if t, err := ratelimit.ParseTier(sc.Tier); err == nil {
				tier, source = t, "stored"
			} else {
				slog.Warn("ignoring invalid stored tier", "tier", sc.Tier)
			}
		}
	}

	a.queue = ratelimit.NewQueue(tier, ratelimit.WithMetrics(a.metrics))
	a.tierSource = source
	a.closers = append(a.closers, func(context.Context) error {
		a.queue.Close()
		return nil
	})
	info := a.queue.TierInfo()
	slog.Info("rate limit tier", "tier", info.Tier, "source", source,
		"concurrency", info.Config.Concurrency, "interval", info.Config.Interval)
}

func (a *App) initServer() {
	sessionID := uuid.NewString()
	var recorder oplog.Recorder = oplog.Nop{}
	if a.sink != nil {
		sessionID = a.sink.SessionID()
		recorder = a.sink
	}

	opts := []workflow.Option{
		workflow.WithRecorder(recorder),
		workflow.WithStoreDomain(a.cfg.Shopify.StoreURL),
		workflow.WithSessionID(sessionID),
		workflow.WithTimings(timings(a.cfg.Polling)),
		workflow.WithMetrics(a.metrics),
	}
	if a.store != nil {
		opts = append(opts, workflow.WithStore(a.store))
	}
	if a.transferer != nil {
		opts = append(opts, workflow.WithTransferer(a.transferer))
	}
	a.runner = workflow.New(a.exec, a.queue, opts...)

	srvOpts := []server.Option{server.WithMetrics(a.metrics)}
	if a.version != "" {
		srvOpts = append(srvOpts, server.WithVersion(a.version))
	}
	a.server = server.New(a.runner, srvOpts...)
}

func timings(p config.PollingConfig) workflow.Timings {
	return workflow.Timings{
		BulkInterval: p.BulkInterval,
		BulkTimeout:  p.BulkTimeout,
		FileInterval: p.FileInterval,
		FileTimeout:  p.FileTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Server returns the MCP server.
func (a *App) Server() *server.Server { return a.server }

// Runner returns the workflow runner.
func (a *App) Runner() *workflow.Runner { return a.runner }

// Store returns the operation store, nil when the operation log is disabled.
func (a *App) Store() persist.Store { return a.store }

// TierSource reports where the active tier came from at start-up: "stored",
// "config" or "default".
func (a *App) TierSource() string { return a.tierSource }

// ─── Check ───────────────────────────────────────────────────────────────────

// Check verifies that the store is reachable with the configured token by
// fetching the shop name. The returned error renders with
// [workflow.Render], including guidance for 401 and 403 responses.
func (a *App) Check(ctx context.Context) (shopName string, err error) {
	out, err := ratelimit.Do(ctx, a.queue, func(ctx context.Context) (shopify.Outcome, error) {
		return a.exec.Execute(ctx, startupCheckDoc, nil), nil
	})
	if err != nil {
		return "", err
	}
	if !out.OK() {
		return "", &workflow.RequestError{Step: "Startup check", Outcome: out}
	}
	var resp struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := out.Decode(&resp); err != nil {
		return "", fmt.Errorf("app: decode startup check: %w", err)
	}
	return resp.Shop.Name, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves MCP over the configured transport and blocks until ctx is
// cancelled or the transport fails. When MetricsAddr is set, /metrics,
// /healthz and /readyz are served alongside.
func (a *App) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.MetricsHandler())
		a.health().Register(mux)
		g.Go(func() error {
			return serveHTTP(ctx, &http.Server{Addr: addr, Handler: mux}, nil)
		})
		slog.Info("metrics listening", "addr", addr)
	}

	switch a.cfg.Server.Transport {
	case mcp.TransportStreamableHTTP:
		mux := http.NewServeMux()
		mux.Handle(MCPPath, a.server.HTTPHandler())
		srv := &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			defer cancel()
			return serveHTTP(ctx, srv, a.cfg.Server.TLS)
		})
		slog.Info("mcp listening", "transport", a.cfg.Server.Transport, "addr", a.cfg.Server.ListenAddr, "path", MCPPath, "tls", a.cfg.Server.TLS != nil)
	default:
		// The stdio session ends when the client closes stdin.
		g.Go(func() error {
			defer cancel()
			return a.server.ServeStdio(ctx)
		})
		slog.Info("mcp serving", "transport", mcp.TransportStdio)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return parent.Err()
}

// serveHTTP runs srv until ctx is done, then stops it gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, tc *config.TLSConfig) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", srv.Addr, err)
	}
	if tc != nil {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: load tls key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "addr", srv.Addr, "err", err)
		}
		return ctx.Err()
	}
}

// health builds the readiness checks. The operation log is optional; an open
// Admin API circuit breaker makes the server unready.
func (a *App) health() *health.Handler {
	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "oplog", Check: a.store.Ping, Optional: true})
	}
	if a.client != nil {
		client := a.client
		checkers = append(checkers, health.Checker{Name: "shopify", Check: func(context.Context) error {
			if client.BreakerState() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}})
	}
	return health.New(checkers,
		health.WithInfo("store", a.cfg.Shopify.StoreURL),
		health.WithInfo("version", a.versionOrDev()),
	)
}

func (a *App) versionOrDev() string {
	if a.version == "" {
		return "dev"
	}
	return a.version
}

// ─── Live reload ─────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of d. Settings listed in
// d.RestartRequired are logged and otherwise ignored.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TierChanged && d.NewTier != "" {
		tier, err := ratelimit.ParseTier(d.NewTier)
		if err != nil {
			slog.Warn("ignoring invalid tier", "tier", d.NewTier)
		} else if err := a.queue.Update(tier); err != nil {
			slog.Warn("tier update failed", "tier", tier, "err", err)
		} else {
			slog.Info("rate limit tier changed", "tier", tier)
		}
	}
	if d.PollingChanged {
		a.runner.SetTimings(timings(d.NewPolling))
		slog.Info("poll timings changed", "timings", a.runner.Timings())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "settings", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog level. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. The operation log drains
// before its store closes, then the queue stops. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		shutdownErr = a.closeAll(ctx)
		if shutdownErr == nil {
			slog.Info("shutdown complete")
		}
	})
	return shutdownErr
}

func (a *App) closeAll(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(ctx); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}
