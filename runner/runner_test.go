package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/engine"
	"github.com/use-agent/casescan/models"
	"github.com/use-agent/casescan/portal"
	"github.com/use-agent/casescan/store"
)

const listingURL = "https://tj.example/cgi-bin/list?c={case}"

type fakeSession struct {
	mu       sync.Mutex
	pages    map[string]string // url -> visible text
	listing  string
	fetchErr map[string]error
	fetched  []string
	rendered []string
	ready    string
	released bool
}

func (s *fakeSession) FetchText(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, url)
	if err := s.fetchErr[url]; err != nil {
		return "", err
	}
	return s.pages[url], nil
}

func (s *fakeSession) FetchListing(_ context.Context, url, ready string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
	return s.listing, nil
}

func (s *fakeSession) FetchPage(ctx context.Context, url string) (string, string, error) {
	text, err := s.FetchText(ctx, url)
	return "<body>" + text + "</body>", text, err
}

func (s *fakeSession) RenderPDF(_ context.Context, url, path string) error {
	s.mu.Lock()
	s.rendered = append(s.rendered, url)
	s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("%PDF-1.4 "+url), 0o644)
}

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

type fakeProvider struct {
	session *fakeSession
	err     error
	calls   atomic.Int32
}

func (p *fakeProvider) Acquire(context.Context) (Session, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.session, nil
}

type stubEngine struct {
	texts map[string]string
	html  string
}

func (e *stubEngine) Name() string { return "http" }

func (e *stubEngine) Fetch(_ context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	return &engine.FetchResult{HTML: e.html, Text: e.texts[req.URL], FinalURL: req.URL, EngineName: e.Name()}, nil
}

type fixture struct {
	runner   *Runner
	session  *fakeSession
	provider *fakeProvider
	store    *store.Store
	dir      string
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()

	st, err := store.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	d, err := portal.New(listingURL, "table", "a")
	require.NoError(t, err)

	session := &fakeSession{
		pages: map[string]string{
			"https://tj.example/doc/1": "Sentença",
			"https://tj.example/doc/2": "Certifico o trânsito em\njulgado",
			"https://tj.example/doc/3": "Decreto o perdimento dos bens",
		},
		listing: `<table>
<tr><td><a href="/doc/1">1</a></td></tr>
<tr><td><a href="/doc/2">2</a></td></tr>
<tr><td><a href="/doc/3">3</a></td></tr>
</table>`,
	}
	provider := &fakeProvider{session: session}
	dir := t.TempDir()

	opts.Sessions = provider
	opts.ReadySelector = "table"
	opts.Recorder = st
	if opts.Discoverer == nil {
		opts.Discoverer = d
	}
	opts.Scanner = config.ScannerConfig{
		OutputDir:      dir,
		DefaultTimeout: time.Minute,
		MaxTimeout:     time.Minute,
		FetchMode:      ModeBrowser,
	}

	return &fixture{
		runner:   New(opts),
		session:  session,
		provider: provider,
		store:    st,
		dir:      dir,
	}
}

func TestRun_DiscoversAndRendersBothCategories(t *testing.T) {
	f := setup(t, Options{})

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{CaseID: "0701"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, resp.Complete)
	require.Empty(t, resp.Missing)
	require.Equal(t, 3, resp.LinksTotal)
	require.Equal(t, 3, resp.LinksFetched)

	want := []models.Artifact{
		{Category: "PERDIMENTO", Path: filepath.Join(f.dir, "0701_perdimento.pdf"), SourceURL: "https://tj.example/doc/3", LinkIndex: 3},
		{Category: "TRANSITO_EM_JULGADO", Path: filepath.Join(f.dir, "0701_transito_em_julgado.pdf"), SourceURL: "https://tj.example/doc/2", LinkIndex: 2},
	}
	if diff := cmp.Diff(want, resp.Artifacts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}
	for _, a := range want {
		require.FileExists(t, a.Path)
	}
	require.True(t, f.session.released)
	require.Equal(t, "table", f.session.ready)

	stored, err := f.store.Artifacts(context.Background(), "0701")
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestRun_ExplicitLinksSkipDiscovery(t *testing.T) {
	f := setup(t, Options{})
	f.session.listing = "<p>should not be read</p>"

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{
		CaseID: "0701",
		Links:  []string{"https://tj.example/doc/2"},
	})
	require.NoError(t, err)
	require.False(t, resp.Complete)
	require.Equal(t, []string{"PERDIMENTO"}, resp.Missing)
	require.Equal(t, int64(0), resp.Timing.DiscoveryMs)
	require.Equal(t, []string{"https://tj.example/doc/2"}, f.session.rendered)
}

func TestRun_RequestCategoriesOverrideDefaults(t *testing.T) {
	f := setup(t, Options{})

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{
		CaseID:     "0701",
		OutputDir:  "custom/./batch-7",
		Categories: []models.CategoryRule{{Name: "SENTENCA", Slug: "sentenca", Keyword: "sentença"}},
	})
	require.NoError(t, err)
	require.True(t, resp.Complete)
	require.Len(t, resp.Artifacts, 1)
	require.Equal(t, filepath.Join(f.dir, "custom", "batch-7", "0701_sentenca.pdf"), resp.Artifacts[0].Path)
	require.Equal(t, 1, resp.LinksFetched)
}

func TestRun_HTTPModeFetchesTextWithoutSession(t *testing.T) {
	httpEng := &stubEngine{
		html: `<table><tr><td><a href="/doc/9">9</a></td></tr></table>`,
		texts: map[string]string{
			"https://tj.example/doc/9": "PERDIMENTO e TRÂNSITO EM JULGADO",
		},
	}
	f := setup(t, Options{HTTPEngine: httpEng})

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{CaseID: "0701", FetchMode: ModeHTTP})
	require.NoError(t, err)
	// one page claims one category only
	require.Len(t, resp.Artifacts, 1)
	require.Equal(t, "PERDIMENTO", resp.Artifacts[0].Category)
	require.Empty(t, f.session.fetched)
	require.Equal(t, []string{"https://tj.example/doc/9"}, f.session.rendered)
}

func TestRun_AutoModeEscalatesToBrowser(t *testing.T) {
	// the HTTP engine reads the listing but sees an empty shell for the
	// document, so the browser engine wins there
	httpEng := &stubEngine{
		html:  `<table><tr><td><a href="/doc/3">3</a></td></tr></table>`,
		texts: map[string]string{"https://tj.example/cgi-bin/list?c=0701": "Documentos"},
	}
	f := setup(t, Options{
		HTTPEngine:       httpEng,
		EscalationDelays: []time.Duration{0, 50 * time.Millisecond},
	})

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{CaseID: "0701", FetchMode: ModeAuto})
	require.NoError(t, err)
	require.Len(t, resp.Artifacts, 1)
	require.Equal(t, "PERDIMENTO", resp.Artifacts[0].Category)
	require.Equal(t, []string{"https://tj.example/doc/3"}, f.session.fetched)
}

func TestRun_FetchErrorKeepsPartialArtifacts(t *testing.T) {
	f := setup(t, Options{})
	f.session.fetchErr = map[string]error{"https://tj.example/doc/3": errors.New("connection reset")}

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{CaseID: "0701"})
	var scanErr *models.ScanError
	require.ErrorAs(t, err, &scanErr)
	require.Equal(t, models.ErrCodeFetch, scanErr.Code)

	require.False(t, resp.Success)
	require.Equal(t, models.ErrCodeFetch, resp.Error.Code)
	require.Len(t, resp.Artifacts, 1)
	require.Equal(t, "TRANSITO_EM_JULGADO", resp.Artifacts[0].Category)
	require.Equal(t, 3, resp.LinksFetched)
	require.True(t, f.session.released)

	n, err := f.store.RunCount(context.Background(), "0701")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  *models.ScanRequest
		opts Options
	}{
		{"empty case", &models.ScanRequest{}, Options{}},
		{"path in case", &models.ScanRequest{CaseID: "a/b"}, Options{}},
		{"unknown mode", &models.ScanRequest{CaseID: "1", FetchMode: "carrier-pigeon"}, Options{}},
		{"http mode without engine", &models.ScanRequest{CaseID: "1", FetchMode: ModeHTTP}, Options{}},
		{"relative link", &models.ScanRequest{CaseID: "1", Links: []string{"/doc/1"}}, Options{}},
		{"absolute output dir", &models.ScanRequest{CaseID: "1", OutputDir: "/etc/cron.d"}, Options{}},
		{"output dir above artifacts", &models.ScanRequest{CaseID: "1", OutputDir: "../elsewhere"}, Options{}},
		{"output dir escaping through subdir", &models.ScanRequest{CaseID: "1", OutputDir: "a/../../b"}, Options{}},
		{"bad category", &models.ScanRequest{CaseID: "1", Categories: []models.CategoryRule{{Name: "A", Slug: "a/b", Keyword: "A"}}}, Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.opts)
			resp, err := f.runner.Run(context.Background(), tt.req)

			var scanErr *models.ScanError
			require.ErrorAs(t, err, &scanErr)
			require.Equal(t, models.ErrCodeInvalidInput, scanErr.Code)
			require.False(t, resp.Success)
			require.Zero(t, f.provider.calls.Load(), "no session for invalid input")
		})
	}
}

func TestRun_AcquireFailure(t *testing.T) {
	f := setup(t, Options{})
	f.provider.err = context.DeadlineExceeded

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{CaseID: "0701"})
	require.Error(t, err)
	require.Equal(t, models.ErrCodeTimeout, resp.Error.Code)
	require.Equal(t, []string{"PERDIMENTO", "TRANSITO_EM_JULGADO"}, resp.Missing)
}

func TestRun_Concurrent(t *testing.T) {
	f := setup(t, Options{})

	var wg sync.WaitGroup
	for _, id := range []string{"1", "2", "3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.runner.Run(context.Background(), &models.ScanRequest{CaseID: id})
			if err != nil || !resp.Complete {
				t.Errorf("case %s: complete=%v err=%v", id, resp.Complete, err)
			}
		}()
	}
	wg.Wait()
}

// slowPageSession is a browser tab whose page loads only end when the
// caller gives up, and then take a little longer to unwind.
type slowPageSession struct {
	*fakeSession
	entered          chan struct{}
	usedAfterRelease atomic.Bool
}

func (s *slowPageSession) FetchPage(ctx context.Context, url string) (string, string, error) {
	close(s.entered)
	<-ctx.Done()
	time.Sleep(30 * time.Millisecond)
	s.mu.Lock()
	if s.released {
		s.usedAfterRelease.Store(true)
	}
	s.mu.Unlock()
	return "", "", ctx.Err()
}

type singleProvider struct {
	s Session
}

func (p singleProvider) Acquire(context.Context) (Session, error) { return p.s, nil }

// gatedEngine answers only after gate is closed.
type gatedEngine struct {
	stubEngine
	gate chan struct{}
}

func (e *gatedEngine) Fetch(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	<-e.gate
	return e.stubEngine.Fetch(ctx, req)
}

func TestRun_AutoModeLoserFinishesBeforeRelease(t *testing.T) {
	slow := &slowPageSession{entered: make(chan struct{})}
	httpEng := &gatedEngine{
		stubEngine: stubEngine{texts: map[string]string{"https://tj.example/doc/1": "Sentença"}},
		gate:       slow.entered,
	}
	f := setup(t, Options{
		HTTPEngine:       httpEng,
		EscalationDelays: []time.Duration{0, 0},
	})
	slow.fakeSession = f.session
	f.runner.opts.Sessions = singleProvider{s: slow}

	resp, err := f.runner.Run(context.Background(), &models.ScanRequest{
		CaseID:    "0701",
		FetchMode: ModeAuto,
		Links:     []string{"https://tj.example/doc/1"},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Artifacts)

	time.Sleep(100 * time.Millisecond)
	require.True(t, f.session.released)
	require.False(t, slow.usedAfterRelease.Load(), "page used after the session was released")
}

func TestLockedSession_ReleasedSessionRefusesCalls(t *testing.T) {
	fake := &fakeSession{}
	l := &lockedSession{s: fake}
	l.Release()
	l.Release()
	require.True(t, fake.released)

	_, _, err := l.FetchPage(context.Background(), "https://tj.example/doc/1")
	require.ErrorIs(t, err, errSessionReleased)
	require.ErrorIs(t, l.RenderPDF(context.Background(), "https://tj.example/doc/1", "x.pdf"), errSessionReleased)
	require.Empty(t, fake.fetched)
}

func TestResolveOutputDir(t *testing.T) {
	base := filepath.Join("srv", "arquivos")
	tests := []struct {
		requested string
		want      string
		ok        bool
	}{
		{"", base, true},
		{"lote", filepath.Join(base, "lote"), true},
		{"a/../b", filepath.Join(base, "b"), true},
		{"..a", filepath.Join(base, "..a"), true},
		{".", base, true},
		{"/tmp", "", false},
		{"..", "", false},
		{"a/../../b", "", false},
	}
	for _, tt := range tests {
		got, err := resolveOutputDir(base, tt.requested)
		if !tt.ok {
			var scanErr *models.ScanError
			require.ErrorAs(t, err, &scanErr, "requested %q", tt.requested)
			require.Equal(t, models.ErrCodeInvalidInput, scanErr.Code)
			continue
		}
		require.NoError(t, err, "requested %q", tt.requested)
		require.Equal(t, tt.want, got)
	}
}

func TestRunner_Defaults(t *testing.T) {
	r := New(Options{Scanner: config.ScannerConfig{DefaultTimeout: 90 * time.Second, FetchMode: ModeAuto}})

	req := &models.ScanRequest{CaseID: "0701"}
	r.Defaults(req)
	require.Equal(t, 90, req.Timeout)
	require.Equal(t, ModeAuto, req.FetchMode)

	req = &models.ScanRequest{CaseID: "0701", Timeout: 5, FetchMode: ModeHTTP}
	r.Defaults(req)
	require.Equal(t, 5, req.Timeout)
	require.Equal(t, ModeHTTP, req.FetchMode)

	req = &models.ScanRequest{CaseID: "0701"}
	New(Options{}).Defaults(req)
	require.Equal(t, 300, req.Timeout)
	require.Equal(t, ModeBrowser, req.FetchMode)
}
