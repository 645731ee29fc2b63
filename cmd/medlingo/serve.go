package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medlingo/internal/config"
	"github.com/MrWong99/medlingo/internal/gateway"
	"github.com/MrWong99/medlingo/internal/health"
	"github.com/MrWong99/medlingo/internal/observe"
	"github.com/MrWong99/medlingo/internal/roomserver"
	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/memstore"
	"github.com/MrWong99/medlingo/pkg/store/postgres"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// serve runs the translation gateway and the room API until ctx is done.
func serve(ctx context.Context, cfg *config.Config, reg *config.Registry, configPath string, level *slog.LevelVar) error {
	slog.Info("medlingo starting",
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"store", cfg.Store.Backend,
		"llm", cfg.Providers.LLM.Name,
	)

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "medlingo"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	st, checkers, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	translator := gateway.NewTranslator(buildTranslationModel(cfg, reg), gateway.WithMetrics(metrics))
	if !translator.Configured() {
		slog.Warn("translation service not configured; POST /api/translate will answer 500",
			"env", config.EnvAPIKey)
	}
	checkers = append(checkers, health.Checker{
		Name:     "translation",
		Optional: true,
		Check: func(context.Context) error {
			if !translator.Configured() {
				return gateway.ErrNotConfigured
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	gateway.NewHandler(translator, metrics).Register(mux)
	roomserver.New(st,
		roomserver.WithMetrics(metrics),
		roomserver.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	).Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), level)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

func applyReload(d config.ConfigDiff, level *slog.LevelVar) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired() {
		slog.Warn("configuration changed; restart to apply",
			"listen_addr", d.ListenAddrChanged,
			"translation", d.TranslationChanged,
			"store", d.StoreChanged,
			"allowed_origins", d.OriginsChanged,
		)
	}
}

// openStore builds the configured store and the readiness checks that go
// with it.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, []health.Checker, func(), error) {
	switch cfg.Backend {
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		checks := []health.Checker{{Name: "store", Check: pg.Ping}}
		return pg, checks, pg.Close, nil
	default:
		mem := memstore.New()
		return mem, nil, mem.Close, nil
	}
}
