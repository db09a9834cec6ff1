// Command shopify-store-mcp serves the Admin GraphQL API of one Shopify store
// as MCP tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/app"
	"github.com/MrWong99/shopify-store-mcp/internal/config"
	"github.com/MrWong99/shopify-store-mcp/internal/mcp"
	"github.com/MrWong99/shopify-store-mcp/internal/mcp/server"
	"github.com/MrWong99/shopify-store-mcp/internal/observe"
	"github.com/MrWong99/shopify-store-mcp/internal/workflow"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	transport := flag.String("transport", "", "MCP transport override: stdio or streamable-http")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(server.Name, version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "shopify-store-mcp: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "shopify-store-mcp: %v\n", err)
		}
		return 1
	}
	if *transport != "" {
		t, err := mcp.ParseTransport(*transport)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shopify-store-mcp: %v\n", err)
			return 2
		}
		cfg.Server.Transport = t
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// stdout carries the stdio transport, so logs always go to stderr.
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("shopify-store-mcp starting",
		"version", version,
		"store", cfg.Shopify.StoreURL,
		"api_version", cfg.Shopify.APIVersion,
		"transport", cfg.Server.Transport,
		"oplog", oplogSummary(cfg.Oplog),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    server.Name,
		ServiceVersion: version,
		StoreDomain:    cfg.Shopify.StoreURL,
		APIVersion:     cfg.Shopify.APIVersion,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, app.WithLogLevel(level), app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := serve(ctx, application, cfg, *configPath, *watch)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// serve verifies the store connection, starts the config watcher and runs
// the MCP server until ctx is cancelled or the client disconnects.
func serve(ctx context.Context, application *app.App, cfg *config.Config, configPath string, watch bool) int {
	shopName, err := application.Check(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shopify-store-mcp: cannot reach %s\n%s\n", cfg.Shopify.StoreURL, workflow.Render(err))
		return 1
	}
	slog.Info("connected to store", "shop", shopName, "tier", application.Runner().Queue().TierInfo().Tier, "tier_source", application.TierSource())

	if configPath != "" && watch {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			application.ApplyConfig(config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
			stopHUP := reloadOnHangup(w)
			defer stopHUP()
		}
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	return 0
}

// reloadOnHangup forces a config reload on every SIGHUP until the returned
// function is called.
func reloadOnHangup(w *config.Watcher) (stop func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-hup:
				changed, err := w.Reload()
				if err != nil {
					slog.Warn("SIGHUP reload failed", "err", err)
					continue
				}
				slog.Info("SIGHUP reload", "changed", changed)
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
	}
}

func oplogSummary(o config.OplogConfig) string {
	if !o.IsEnabled() {
		return "disabled"
	}
	return string(o.Driver)
}

// newLogger creates a structured text logger on stderr whose level follows
// level.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
