package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPEngine_FetchDecodesLatin1(t *testing.T) {
	// "Trânsito em julgado" in ISO-8859-1: â is a single 0xE2 byte.
	page := []byte("<html><head><title>Certid\xe3o</title><script>var perdimento=1</script></head>" +
		"<body><p>Tr\xe2nsito em julgado</p></body></html>")

	var lang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		_, _ = w.Write(page)
	}))
	defer srv.Close()

	e := NewHTTPEngine(5 * time.Second)
	res, err := e.Fetch(context.Background(), &FetchRequest{URL: srv.URL + "/doc"})
	require.NoError(t, err)
	require.Equal(t, "pt-BR,pt;q=0.9", lang)
	require.Equal(t, "Certidão", res.Title)
	require.Equal(t, "Trânsito em julgado", res.Text)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "http", res.EngineName)
	require.Equal(t, srv.URL+"/doc", res.FinalURL)
}

func TestHTTPEngine_RejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(0).Fetch(context.Background(), &FetchRequest{URL: srv.URL})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusOK, respErr.StatusCode)
	require.Equal(t, "application/pdf", respErr.ContentType)
}

func TestHTTPEngine_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(0).Fetch(context.Background(), &FetchRequest{URL: srv.URL})
	require.Error(t, err)
}

func TestHTTPEngine_RequestHeadersOverrideDefaults(t *testing.T) {
	var lang, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang = r.Header.Get("Accept-Language")
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(0).Fetch(context.Background(), &FetchRequest{
		URL:     srv.URL,
		Headers: map[string]string{"Accept-Language": "en"},
	})
	require.NoError(t, err)
	require.Equal(t, "en", lang)
	require.Contains(t, agent, "Chrome/")
}

func TestHTTPEngine_Deadline(t *testing.T) {
	tests := []struct {
		engine, requested, want time.Duration
	}{
		{0, 0, 0},
		{15 * time.Second, 0, 15 * time.Second},
		{0, 5 * time.Second, 5 * time.Second},
		{15 * time.Second, 5 * time.Second, 5 * time.Second},
		{15 * time.Second, time.Minute, 15 * time.Second},
	}
	for _, tt := range tests {
		e := &HTTPEngine{timeout: tt.engine}
		require.Equal(t, tt.want, e.deadline(tt.requested), "engine %v requested %v", tt.engine, tt.requested)
	}
}
