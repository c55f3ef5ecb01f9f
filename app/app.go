// Package app wires the scan components from configuration.
package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/use-agent/casescan/browser"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/engine"
	"github.com/use-agent/casescan/portal"
	"github.com/use-agent/casescan/runner"
	"github.com/use-agent/casescan/store"
)

// App owns the long-lived scan services.
type App struct {
	Browser *browser.Browser
	Store   *store.Store // nil when persistence is off
	Memory  *engine.DomainMemory
	Runner  *runner.Runner
}

// New launches the browser and builds a Runner from cfg. Close releases
// everything it opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	categories, err := config.LoadCategories(cfg.Scanner.CategoriesFile)
	if err != nil {
		return nil, err
	}

	var discoverer *portal.Discoverer
	if cfg.Portal.ListingURL != "" {
		discoverer, err = portal.New(cfg.Portal.ListingURL, cfg.Portal.ListingScope, cfg.Portal.LinkSelector)
		if err != nil {
			return nil, err
		}
	}

	a := &App{Memory: engine.NewDomainMemory(cfg.Engine.DomainMemoryTTL)}

	if cfg.Store.Driver != "" && cfg.Store.Driver != "none" {
		a.Store, err = store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Browser, err = browser.New(cfg.Browser, cfg.Scanner)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := runner.Options{
		Sessions:         runner.FromBrowser(a.Browser),
		Discoverer:       discoverer,
		ReadySelector:    cfg.Portal.ReadySelector,
		HTTPEngine:       engine.NewHTTPEngine(cfg.Engine.HTTPTimeout),
		Memory:           a.Memory,
		Categories:       categories,
		Scanner:          cfg.Scanner,
		EscalationDelays: cfg.Engine.EscalationDelays,
	}
	if a.Store != nil {
		opts.Recorder = a.Store
	}
	a.Runner = runner.New(opts)

	slog.Info("scan services ready",
		"categories", len(categories),
		"fetchMode", cfg.Scanner.FetchMode,
		"store", cfg.Store.Driver,
		"outputDir", cfg.Scanner.OutputDir,
	)
	return a, nil
}

// Close shuts down the browser and the store.
func (a *App) Close() {
	if a.Browser != nil {
		a.Browser.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("store close failed", "error", err)
		}
	}
	a.Memory.Stop()
}

// InitLogger configures slog based on the LogConfig.
func InitLogger(cfg config.LogConfig, w io.Writer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
