package browser

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/rod/lib/utils"
	"github.com/use-agent/casescan/models"
	"golang.org/x/time/rate"
)

// Session is one browser tab owned by exactly one scan. It is not safe for
// concurrent use: the tab holds a single loaded document at a time.
type Session struct {
	owner   *Browser
	page    *rod.Page
	limiter *rate.Limiter
	current string

	navTimeout  time.Duration
	waitTimeout time.Duration
}

func newSession(b *Browser, page *rod.Page) *Session {
	limit := rate.Inf
	if b.browserCfg.NavigationRate > 0 {
		limit = rate.Limit(b.browserCfg.NavigationRate)
	}
	burst := b.browserCfg.NavigationBurst
	if burst <= 0 {
		burst = 1
	}
	return &Session{
		owner:       b,
		page:        page,
		limiter:     rate.NewLimiter(limit, burst),
		navTimeout:  b.scannerCfg.NavigationTimeout,
		waitTimeout: b.scannerCfg.WaitTimeout,
	}
}

// Release returns the tab to the pool. The session must not be used after.
func (s *Session) Release() {
	if s.page == nil {
		return
	}
	s.owner.release(s.page)
	s.page = nil
}

// backoff polls quickly at first and settles at one check per second.
func backoff() utils.Sleeper {
	return utils.BackoffSleeper(100*time.Millisecond, time.Second, nil)
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return categorizeError(err, models.ErrCodeFetch, "navigation throttled")
	}

	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	p := s.page.Context(navCtx)

	// Forget the old URL first: a half-loaded page must not count as current.
	s.current = ""
	if err := p.Navigate(url); err != nil {
		return categorizeError(err, models.ErrCodeFetch, "navigation failed")
	}
	if err := p.WaitLoad(); err != nil {
		return categorizeError(err, models.ErrCodeFetch, "page did not finish loading")
	}
	s.current = url
	return nil
}

// CurrentURL is the last URL navigated to successfully.
func (s *Session) CurrentURL() string {
	return s.current
}

// Find waits until an element matching the CSS selector exists.
func (s *Session) Find(ctx context.Context, selector string) (*Element, error) {
	return s.find(ctx, selector, s.waitTimeout)
}

// WaitFor polls, with backoff, until the element matching selector is
// visible or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := s.find(ctx, selector, timeout)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := el.el.Context(waitCtx).WaitVisible(); err != nil {
		return categorizeError(err, models.ErrCodeFetch, "element "+selector+" never became visible")
	}
	return nil
}

func (s *Session) find(ctx context.Context, selector string, timeout time.Duration) (*Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := s.page.Context(waitCtx).Sleeper(backoff).Element(selector)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeFetch, "element "+selector+" not found")
	}
	return &Element{el: el.Context(ctx)}, nil
}

// FetchText navigates to url and returns the visible text of its body.
func (s *Session) FetchText(ctx context.Context, url string) (string, error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	body, err := s.Find(ctx, "body")
	if err != nil {
		return "", err
	}
	return body.Text()
}

// FetchHTML navigates to url and returns the rendered document HTML.
func (s *Session) FetchHTML(ctx context.Context, url string) (string, error) {
	return s.FetchListing(ctx, url, "")
}

// FetchListing is FetchHTML that first waits for ready to become visible.
// An empty ready selector skips the wait.
func (s *Session) FetchListing(ctx context.Context, url, ready string) (string, error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	if ready != "" {
		if err := s.WaitFor(ctx, ready, s.waitTimeout); err != nil {
			return "", err
		}
	}
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(err, models.ErrCodeFetch, "failed to read page HTML")
	}
	return html, nil
}

// FetchPage navigates to url once and returns both the rendered HTML and
// the visible body text.
func (s *Session) FetchPage(ctx context.Context, url string) (html, text string, err error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", "", err
	}
	html, err = s.page.Context(ctx).HTML()
	if err != nil {
		return "", "", categorizeError(err, models.ErrCodeFetch, "failed to read page HTML")
	}
	body, err := s.Find(ctx, "body")
	if err != nil {
		return "", "", err
	}
	text, err = body.Text()
	if err != nil {
		return "", "", err
	}
	return html, text, nil
}

// RenderPDF prints the page at url to a PDF file at path, creating parent
// directories and replacing any existing file. The page is only reloaded
// when it is not already the current one.
func (s *Session) RenderPDF(ctx context.Context, url, path string) error {
	if s.current != url {
		if err := s.Navigate(ctx, url); err != nil {
			return err
		}
	}

	stream, err := s.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
	})
	if err != nil {
		return categorizeError(err, models.ErrCodeRender, "print to PDF failed")
	}
	if err := utils.OutputFile(path, stream); err != nil {
		return models.NewScanError(models.ErrCodeRender, "failed to write "+path, err)
	}
	return nil
}

// Element is a DOM element found through a Session.
type Element struct {
	el *rod.Element
}

// Text returns the text the element displays.
func (e *Element) Text() (string, error) {
	text, err := e.el.Text()
	if err != nil {
		return "", categorizeError(err, models.ErrCodeFetch, "failed to read element text")
	}
	return text, nil
}

// Click left-clicks the element once.
func (e *Element) Click() error {
	if err := e.el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, models.ErrCodeFetch, "click failed")
	}
	return nil
}

// SendKeys types value into the element.
func (e *Element) SendKeys(value string) error {
	if err := e.el.Input(value); err != nil {
		return categorizeError(err, models.ErrCodeFetch, "input failed")
	}
	return nil
}

// Attribute returns the attribute value, or "" when it is absent.
func (e *Element) Attribute(name string) (string, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", categorizeError(err, models.ErrCodeFetch, "failed to read attribute "+name)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// categorizeError wraps raw errors into typed ScanErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, code, msg string) *models.ScanError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScanError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScanError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScanError(code, msg, err)
	}
}
