package browser

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/models"
	"github.com/ysmood/gson"
)

// Browser manages the global browser lifecycle and the page pool.
// Every page is handed out as a Session owned by a single scan at a time.
// It is safe for concurrent use.
type Browser struct {
	browser    *rod.Browser
	pages      rod.Pool[rod.Page]
	browserCfg config.BrowserConfig
	scannerCfg config.ScannerConfig
	blocked    map[proto.NetworkResourceType]struct{}

	// hijack routers of live pages, stopped when the page is closed
	routers sync.Map // *rod.Page -> *rod.HijackRouter

	active atomic.Int32
}

// New launches a browser and initialises the reusable page pool.
func New(browserCfg config.BrowserConfig, scannerCfg config.ScannerConfig) (*Browser, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	maxSessions := browserCfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}
	slog.Info("session pool created", "maxSessions", maxSessions)

	return &Browser{
		browser:    browser,
		pages:      rod.NewPagePool(maxSessions),
		browserCfg: browserCfg,
		scannerCfg: scannerCfg,
		blocked:    blockedSet(browserCfg.BlockedResourceTypes),
	}, nil
}

// Acquire borrows a page from the pool and wraps it in a Session. It blocks
// until a page is free or ctx is done. The caller must Release the session.
func (b *Browser) Acquire(ctx context.Context) (*Session, error) {
	var page *rod.Page
	select {
	case page = <-b.pages:
	case <-ctx.Done():
		return nil, categorizeError(ctx.Err(), models.ErrCodeBrowserCrash, "no free browser session")
	}

	if page == nil {
		var err error
		page, err = b.newPage()
		if err != nil {
			// give the slot back so the pool keeps its capacity
			b.pages.Put(nil)
			return nil, models.NewScanError(
				models.ErrCodeBrowserCrash,
				"failed to open browser page",
				err,
			)
		}
	}

	b.active.Add(1)
	return newSession(b, page), nil
}

// release blanks the page and returns it to the pool.
func (b *Browser) release(page *rod.Page) {
	defer b.active.Add(-1)

	if err := page.Navigate("about:blank"); err != nil {
		slog.Warn("release: failed to navigate to about:blank, discarding page",
			"error", err,
		)
		b.closePage(page)
		b.pages.Put(nil)
		return
	}
	b.pages.Put(page)
}

// newPage opens a tab with stealth, headers and resource blocking installed.
// Everything here must happen before the first navigation.
func (b *Browser) newPage() (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	if b.browserCfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	if b.browserCfg.AcceptLanguage != "" {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{
				"Accept-Language": gson.New(b.browserCfg.AcceptLanguage),
			},
		}.Call(page)
	}

	if router := setupHijack(page, b.blocked); router != nil {
		b.routers.Store(page, router)
	}
	return page, nil
}

func (b *Browser) closePage(page *rod.Page) {
	if r, ok := b.routers.LoadAndDelete(page); ok {
		_ = r.(*rod.HijackRouter).Stop()
	}
	_ = page.Close()
}

// Stats returns a snapshot of the pool's current state.
func (b *Browser) Stats() models.PoolStats {
	return models.PoolStats{
		MaxSessions:    cap(b.pages),
		ActiveSessions: int(b.active.Load()),
	}
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (b *Browser) Close() {
	slog.Info("browser shutting down: draining session pool")
	b.pages.Cleanup(b.closePage)
	slog.Info("browser shutting down: closing browser")
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
	slog.Info("browser shutdown complete")
}
