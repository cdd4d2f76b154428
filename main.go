package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"mensageria_assinada/internal/database"
	"mensageria_assinada/internal/hub"
	"mensageria_assinada/internal/lobby"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.Level(),
		TimeFormat: time.DateTime,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var recorder *database.Recorder
	if cfg.AuditDSN != "" {
		db, err := database.Open(cfg.AuditDSN)
		if err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
		defer func() {
			if err := database.Close(db); err != nil {
				slog.Error("failed to close audit database", "error", err)
			}
		}()
		recorder = database.NewRecorder(db, cfg.AuditQueue)
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := hub.NewMetrics(promRegistry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	registry := lobby.NewRegistry(lobby.WithObserver(metrics))
	if err := metrics.TrackLobby(registry); err != nil {
		return fmt.Errorf("register lobby gauge: %w", err)
	}

	h := hub.NewHub(ctx, cfg.Hub(), registry, recorder, metrics)
	controller := NewController(ctx, h, cfg.Origins())
	routes := controller.Routes(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins: cfg.Origins(),
			AllowedMethods: []string{http.MethodGet},
		}).Handler(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Addr, "tls", cfg.TLS())
		var err error
		if cfg.TLS() {
			err = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped", "dropped_audit_events", recorder.Dropped())
	return nil
}
