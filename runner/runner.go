// Package runner executes one scan request end to end: session, link
// discovery, text fetching per fetch mode, classification and persistence.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/use-agent/casescan/browser"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/engine"
	"github.com/use-agent/casescan/models"
	"github.com/use-agent/casescan/portal"
	"github.com/use-agent/casescan/scanner"
	"github.com/use-agent/casescan/store"
)

// Fetch modes.
const (
	ModeBrowser = "browser"
	ModeHTTP    = "http"
	ModeAuto    = "auto"
)

// Session is a browser tab owned by one scan.
type Session interface {
	FetchText(ctx context.Context, url string) (string, error)
	FetchListing(ctx context.Context, url, ready string) (string, error)
	FetchPage(ctx context.Context, url string) (html, text string, err error)
	RenderPDF(ctx context.Context, url, path string) error
	Release()
}

// SessionProvider hands out sessions, blocking while none is free.
type SessionProvider interface {
	Acquire(ctx context.Context) (Session, error)
}

// Recorder persists finished scans.
type Recorder interface {
	RecordRun(ctx context.Context, run *store.Run) (string, error)
}

type browserProvider struct {
	b *browser.Browser
}

// FromBrowser serves sessions from the pages of b.
func FromBrowser(b *browser.Browser) SessionProvider {
	return browserProvider{b: b}
}

func (p browserProvider) Acquire(ctx context.Context) (Session, error) {
	s, err := p.b.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options wires a Runner.
type Options struct {
	Sessions SessionProvider

	// Discoverer finds links when a request has none. Optional.
	Discoverer *portal.Discoverer

	// ReadySelector must be visible before a browser reads the listing.
	ReadySelector string

	// HTTPEngine serves the "http" and "auto" fetch modes.
	HTTPEngine engine.Engine

	// Memory is shared by the dispatchers of "auto" scans. Optional.
	Memory *engine.DomainMemory

	// Recorder stores scan history. Optional.
	Recorder Recorder

	// Categories apply when a request brings none.
	Categories []scanner.Category

	Scanner          config.ScannerConfig
	EscalationDelays []time.Duration
}

// Runner is safe for concurrent use; each Run owns its own session.
type Runner struct {
	opts Options
}

// New creates a Runner.
func New(opts Options) *Runner {
	if len(opts.Categories) == 0 {
		opts.Categories = scanner.DefaultCategories()
	}
	return &Runner{opts: opts}
}

// Categories returns the default category rules in priority order.
func (r *Runner) Categories() []scanner.Category {
	return r.opts.Categories
}

// Defaults fills the unset timeout and fetch mode of req from the
// configuration, then from the built-in defaults.
func (r *Runner) Defaults(req *models.ScanRequest) {
	if req.Timeout == 0 {
		req.Timeout = int(r.opts.Scanner.DefaultTimeout / time.Second)
	}
	if req.FetchMode == "" {
		req.FetchMode = r.opts.Scanner.FetchMode
	}
	req.Defaults()
}

// Run scans one case. The response is never nil: on failure it has
// Success=false, the error detail, and whatever artifacts were rendered
// before the failure. The error is returned as well so callers can map it.
func (r *Runner) Run(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error) {
	start := time.Now()
	r.Defaults(req)

	categories := r.opts.Categories
	if len(req.Categories) > 0 {
		categories = scanner.FromRules(req.Categories)
	}

	resp := &models.ScanResponse{
		CaseID:    req.CaseID,
		Artifacts: []models.Artifact{},
		Missing:   names(categories),
	}

	if err := r.validate(req, categories); err != nil {
		return r.finish(ctx, resp, nil, start, err)
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if limit := r.opts.Scanner.MaxTimeout; limit > 0 && timeout > limit {
		timeout = limit
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired, err := r.opts.Sessions.Acquire(ctx)
	if err != nil {
		return r.finish(ctx, resp, nil, start, categorizeError(err, models.ErrCodeBrowserCrash, "no browser session"))
	}
	session := &lockedSession{s: acquired}
	defer session.Release()

	var dispatcher *engine.Dispatcher
	if req.FetchMode == ModeAuto {
		dispatcher = engine.NewDispatcher(
			[]engine.Engine{r.opts.HTTPEngine, engine.NewRodEngine(session.FetchPage)},
			r.opts.EscalationDelays,
			r.opts.Memory,
		)
	}

	links := req.Links
	if len(links) == 0 {
		discoveryStart := time.Now()
		links, err = r.opts.Discoverer.Discover(ctx, r.htmlFetcher(req.FetchMode, session, dispatcher), req.CaseID)
		resp.Timing.DiscoveryMs = time.Since(discoveryStart).Milliseconds()
		if err != nil {
			return r.finish(ctx, resp, nil, start, categorizeError(err, models.ErrCodeFetch, "link discovery failed"))
		}
	}
	resp.LinksTotal = len(links)

	outputDir, _ := resolveOutputDir(r.opts.Scanner.OutputDir, req.OutputDir)

	scanStart := time.Now()
	result, err := scanner.New(outputDir).Scan(
		ctx,
		req.CaseID,
		links,
		categories,
		r.textFetcher(req.FetchMode, session, dispatcher),
		session.RenderPDF,
	)
	resp.Timing.ScanMs = time.Since(scanStart).Milliseconds()
	return r.finish(ctx, resp, result, start, err)
}

func (r *Runner) validate(req *models.ScanRequest, categories []scanner.Category) error {
	if err := scanner.ValidateCaseID(req.CaseID); err != nil {
		return err
	}
	if err := scanner.ValidateCategories(categories); err != nil {
		return err
	}
	if err := scanner.ValidateLinks(req.Links); err != nil {
		return err
	}
	if _, err := resolveOutputDir(r.opts.Scanner.OutputDir, req.OutputDir); err != nil {
		return err
	}
	switch req.FetchMode {
	case ModeBrowser:
	case ModeHTTP, ModeAuto:
		if r.opts.HTTPEngine == nil {
			return models.InvalidInput("fetch mode %q is not available", req.FetchMode)
		}
	default:
		return models.InvalidInput("unknown fetch mode %q", req.FetchMode)
	}
	if len(req.Links) == 0 && r.opts.Discoverer == nil {
		return models.InvalidInput("no links given and no case listing configured")
	}
	return nil
}

// finish fills resp from result and err, records the run and logs it.
func (r *Runner) finish(
	ctx context.Context,
	resp *models.ScanResponse,
	result *scanner.Result,
	start time.Time,
	err error,
) (*models.ScanResponse, error) {
	if result != nil {
		resp.Artifacts = result.ToModels()
		resp.Missing = result.Missing()
		resp.Complete = result.Complete()
		resp.LinksFetched = result.Fetched
	}
	resp.Timing.TotalMs = time.Since(start).Milliseconds()
	resp.Success = err == nil
	if err != nil {
		resp.Error = toDetail(err)
	}

	attrs := []any{
		"case", resp.CaseID,
		"success", resp.Success,
		"complete", resp.Complete,
		"artifacts", len(resp.Artifacts),
		"links", resp.LinksTotal,
		"fetched", resp.LinksFetched,
		"total_ms", resp.Timing.TotalMs,
	}
	if err != nil {
		slog.Warn("scan failed", append(attrs, "error", err)...)
	} else {
		slog.Info("scan finished", attrs...)
	}

	if r.opts.Recorder != nil && (resp.Error == nil || resp.Error.Code != models.ErrCodeInvalidInput) {
		r.record(context.WithoutCancel(ctx), resp, start)
	}
	return resp, err
}

func (r *Runner) record(ctx context.Context, resp *models.ScanResponse, start time.Time) {
	run := &store.Run{
		CaseID:       resp.CaseID,
		Success:      resp.Success,
		Complete:     resp.Complete,
		LinksTotal:   resp.LinksTotal,
		LinksFetched: resp.LinksFetched,
		StartedAt:    start,
		Duration:     time.Duration(resp.Timing.TotalMs) * time.Millisecond,
		Artifacts:    resp.Artifacts,
	}
	if resp.Error != nil {
		run.ErrorCode = resp.Error.Code
		run.ErrorMessage = resp.Error.Message
	}
	if _, err := r.opts.Recorder.RecordRun(ctx, run); err != nil {
		slog.Error("failed to record scan", "case", resp.CaseID, "error", err)
	}
}

// resolveOutputDir places a requested artifact directory under base. The
// request may only name a relative path that stays inside base.
func resolveOutputDir(base, requested string) (string, error) {
	if requested == "" {
		return base, nil
	}
	if filepath.IsAbs(requested) || filepath.VolumeName(requested) != "" {
		return "", models.InvalidInput("output dir %q must be relative", requested)
	}
	clean := filepath.Clean(requested)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", models.InvalidInput("output dir %q leaves the artifact directory", requested)
	}
	return filepath.Join(base, clean), nil
}

func toDetail(err error) *models.ErrorDetail {
	var scanErr *models.ScanError
	if errors.As(err, &scanErr) {
		return scanErr.ToDetail()
	}
	return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
}

func names(categories []scanner.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = c.Name
	}
	return out
}

// categorizeError keeps coded errors and maps context errors to SCAN_TIMEOUT.
func categorizeError(err error, code, msg string) error {
	var scanErr *models.ScanError
	if errors.As(err, &scanErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewScanError(models.ErrCodeTimeout, msg, err)
	default:
		return models.NewScanError(code, msg, err)
	}
}
