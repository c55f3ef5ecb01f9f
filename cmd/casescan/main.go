package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/casescan/api"
	"github.com/use-agent/casescan/api/handler"
	"github.com/use-agent/casescan/app"
	"github.com/use-agent/casescan/cache"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	app.InitLogger(cfg.Log, os.Stdout)
	slog.Info("casescan starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxSessions", cfg.Browser.MaxSessions,
	)

	// ── 3. Launch browser, open store, build runner ─────────────────
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialise scan services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── 4. Cache, batches, webhooks ─────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Stop()

	hooks := webhook.New(cfg.Webhook.Timeout, cfg.Webhook.RetryCount)
	batches := handler.NewBatches(a.Runner, hooks, cfg.Browser.MaxSessions)
	defer batches.Stop()

	// ── 5. Setup router ─────────────────────────────────────────────
	deps := api.Deps{
		Runner:  a.Runner,
		Pool:    a.Browser,
		Batches: batches,
		Cache:   cc,
	}
	if a.Store != nil {
		deps.Store = a.Store
	}
	router := api.NewRouter(deps, cfg, time.Now())

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Scans are long; give in-flight requests 30 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// a.Close() runs via defer: drains the session pool and kills Chrome.
	slog.Info("casescan stopped")
}
