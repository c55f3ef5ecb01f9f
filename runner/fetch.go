package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/use-agent/casescan/engine"
	"github.com/use-agent/casescan/models"
	"github.com/use-agent/casescan/portal"
	"github.com/use-agent/casescan/scanner"
)

// textFetcher returns how page text is read in mode. Errors from the
// engines are left uncoded; the scanner classifies them.
func (r *Runner) textFetcher(mode string, session *lockedSession, d *engine.Dispatcher) scanner.FetchTextFunc {
	switch mode {
	case ModeHTTP:
		return func(ctx context.Context, url string) (string, error) {
			res, err := r.opts.HTTPEngine.Fetch(ctx, &engine.FetchRequest{URL: url})
			if err != nil {
				return "", err
			}
			return res.Text, nil
		}
	case ModeAuto:
		return func(ctx context.Context, url string) (string, error) {
			res, err := d.Dispatch(ctx, &engine.FetchRequest{URL: url})
			if err != nil {
				return "", err
			}
			return res.Text, nil
		}
	default:
		return session.FetchText
	}
}

// htmlFetcher returns how the case listing page is read in mode.
func (r *Runner) htmlFetcher(mode string, session *lockedSession, d *engine.Dispatcher) portal.HTMLFetcher {
	switch mode {
	case ModeHTTP:
		return engineFetcher(func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
			return r.opts.HTTPEngine.Fetch(ctx, req)
		})
	case ModeAuto:
		return engineFetcher(d.Dispatch)
	default:
		return listingFetcher{s: session, ready: r.opts.ReadySelector}
	}
}

// listingFetcher reads the listing through the scan's own session.
type listingFetcher struct {
	s     *lockedSession
	ready string
}

func (f listingFetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	return f.s.FetchListing(ctx, url, f.ready)
}

type engineFetcher func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error)

func (f engineFetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	res, err := f(ctx, &engine.FetchRequest{URL: url})
	if err != nil {
		return "", categorizeError(err, models.ErrCodeFetch, "failed to fetch "+url)
	}
	return res.HTML, nil
}

var errSessionReleased = errors.New("runner: session already released")

// lockedSession serializes use of a session. In auto mode a losing browser
// engine may still be unwinding a cancelled load after the race returned,
// so Release waits for it and later calls fail without touching the page.
type lockedSession struct {
	mu       sync.Mutex
	s        Session
	released bool
}

func (l *lockedSession) FetchText(ctx context.Context, url string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return "", errSessionReleased
	}
	return l.s.FetchText(ctx, url)
}

func (l *lockedSession) FetchListing(ctx context.Context, url, ready string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return "", errSessionReleased
	}
	return l.s.FetchListing(ctx, url, ready)
}

func (l *lockedSession) FetchPage(ctx context.Context, url string) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return "", "", errSessionReleased
	}
	return l.s.FetchPage(ctx, url)
}

func (l *lockedSession) RenderPDF(ctx context.Context, url, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errSessionReleased
	}
	return l.s.RenderPDF(ctx, url, path)
}

// Release hands the page back once no call is in flight. Safe to call twice.
func (l *lockedSession) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.s.Release()
}
