package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html/charset"
)

const (
	maxBodyBytes = 10 << 20
	maxRedirects = 10
	dialTimeout  = 10 * time.Second
)

// defaultHeaders make requests look like a Brazilian Chrome user. Request
// headers override them.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "pt-BR,pt;q=0.9",
	"Accept-Encoding": "identity",
}

// ResponseError reports a response that is not a readable HTML page.
type ResponseError struct {
	URL         string
	StatusCode  int
	ContentType string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("http_engine: %s: status %d, content-type %q", e.URL, e.StatusCode, e.ContentType)
}

// HTTPEngine fetches documents with plain HTTP. It needs no browser and
// works for the court's server-rendered CGI pages.
type HTTPEngine struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPEngine creates an HTTPEngine with a Chrome TLS fingerprint.
// timeout bounds each fetch; zero means no engine-level deadline.
func NewHTTPEngine(timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		timeout: timeout,
		client: &http.Client{
			Transport: fingerprintTransport(),
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("http_engine: stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// chromeH1 is Chrome's ClientHello with ALPN limited to http/1.1:
// http.Transport cannot speak h2 over a utls connection.
var chromeH1 = func() *tls.ClientHelloSpec {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return nil
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec
}()

func fingerprintTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			uconn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if chromeH1 == nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: chrome client hello unavailable")
			}
			if err := uconn.ApplyPreset(chromeH1); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply client hello: %w", err)
			}
			if err := uconn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return uconn, nil
		},
	}
}

func (e *HTTPEngine) Name() string { return "http" }

// Fetch GETs req.URL and returns its HTML decoded to UTF-8 along with the
// visible body text. Error statuses and non-HTML bodies are a *ResponseError.
func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if d := e.deadline(req.Timeout); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("http_engine: build request: %w", err)
	}
	for k, v := range defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http_engine: %w", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= http.StatusBadRequest || !isHTML(ct) {
		return nil, &ResponseError{URL: req.URL, StatusCode: resp.StatusCode, ContentType: ct}
	}

	// Court pages are often ISO-8859-1; keywords are matched on UTF-8.
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), ct)
	if err != nil {
		return nil, fmt.Errorf("http_engine: decode body: %w", err)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("http_engine: read body: %w", err)
	}
	page := string(raw)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("http_engine: parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	return &FetchResult{
		HTML:       page,
		Title:      title,
		Text:       VisibleText(doc),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		EngineName: e.Name(),
	}, nil
}

// deadline is the shorter of the engine and request timeouts, ignoring zeros.
func (e *HTTPEngine) deadline(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return e.timeout
	case e.timeout <= 0 || requested < e.timeout:
		return requested
	default:
		return e.timeout
	}
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
