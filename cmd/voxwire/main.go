// Command voxwire runs the Voxwire conversational audio pipeline server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/app"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/flow/postgres"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/relay"
	"github.com/voxwire/voxwire/internal/respond"
	"github.com/voxwire/voxwire/pkg/transcribe"
)

const shutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ────────────────────────────────────────────────────
	shutdownObs, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxwire",
	})
	if err != nil {
		slog.Error("failed to init observability", "err", err)
		return 1
	}
	defer func() {
		obsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(obsCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Reasoning boundary ───────────────────────────────────────────────
	var clientOpts []respond.Option
	if cfg.Boundary.RequestTimeout > 0 {
		clientOpts = append(clientOpts, respond.WithTimeout(cfg.Boundary.RequestTimeout))
	}
	client, err := respond.NewClient(cfg.Boundary.BaseURL, cfg.Boundary.APIKey, clientOpts...)
	if err != nil {
		slog.Error("failed to create boundary client", "err", err)
		return 1
	}
	boundary := respond.NewOrchestrator(client, cfg.Audio.PlaybackRate)

	// ── Flow store (optional) ────────────────────────────────────────────
	var store app.FlowStore
	checkers := []health.Checker{boundaryChecker(cfg.Boundary.BaseURL)}
	if cfg.Database.DSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to connect flow store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Checker{Name: "database", Check: pg.Ping})
		slog.Info("flow store connected")
	} else {
		slog.Info("flow store disabled; compiled flows are not persisted")
	}

	// ── Call manager + HTTP surface ──────────────────────────────────────
	hub := relay.NewHub()
	hub.OnDrop(func(string) { metrics.RelayDrops.Add(ctx, 1) })

	mgr, err := app.NewManager(app.ManagerConfig{
		Boundary: boundary,
		Dialer: transcribe.DialerFunc(func(ctx context.Context, tc transcribe.Config) (transcribe.Link, error) {
			return transcribe.Dial(ctx, mergeTranscribeDefaults(tc, cfg.Transcribe))
		}),
		Hub:     hub,
		Store:   store,
		Audio:   cfg.Audio,
		Turn:    cfg.Turn,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to create call manager", "err", err)
		return 1
	}

	server, err := app.NewServer(app.ServerConfig{
		Manager:  mgr,
		Hub:      hub,
		Store:    store,
		Checkers: checkers,
		BaseCtx:  ctx,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		slog.Error("failed to create server", "err", err)
		return 1
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		slog.Info("shutdown signal received, stopping")
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			slog.Warn("call manager shutdown error", "err", err)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// mergeTranscribeDefaults fills fields the boundary left unset from the
// static config, so a minimal boundary response still yields a dialable link.
// The end-of-turn capability flag travels with the endpoint: a boundary that
// named no provider gets the configured provider's dialect too, since a bare
// bool cannot distinguish "unset" from "no boundary events".
func mergeTranscribeDefaults(tc transcribe.Config, def config.TranscribeConfig) transcribe.Config {
	if tc.URL == "" {
		tc.URL = def.URL
		tc.Boundary = def.Boundary
	}
	if tc.Model == "" {
		tc.Model = def.Model
	}
	if tc.Language == "" {
		tc.Language = def.Language
	}
	if tc.Keepalive == 0 {
		tc.Keepalive = def.Keepalive
	}
	return tc
}

// boundaryChecker probes the reasoning boundary's base URL for reachability.
func boundaryChecker(baseURL string) health.Checker {
	return health.Checker{
		Name: "boundary",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		},
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
