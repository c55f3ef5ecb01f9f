package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestVisibleText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><head><style>p{}</style></head>
<body>
  <script>document.write("PERDIMENTO")</script>
  <noscript>enable js</noscript>
  <p>Certifico o trânsito em julgado</p>
</body></html>`))
	require.NoError(t, err)
	require.Equal(t, "Certifico o trânsito em julgado", VisibleText(doc))
}

func TestVisibleText_BlockBoundariesSeparateWords(t *testing.T) {
	tests := []struct {
		name, html, want string
	}{
		{"line break", `<p>Certifico o trânsito em<br>julgado</p>`, "Certifico o trânsito em\njulgado"},
		{"sibling divs", `<div>transitou em</div><div>julgado</div>`, "transitou em\njulgado"},
		{"table cells", `<table><tr><td>TRANSITADO EM</td><td>JULGADO</td></tr></table>`, "TRANSITADO EM JULGADO"},
		{"inline markup", `<p>decreto o <b>perdi</b>mento &nbsp; dos bens</p><!-- PERDIMENTO -->`, "decreto o perdimento dos bens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + tt.html + "</body></html>"))
			require.NoError(t, err)
			require.Equal(t, tt.want, VisibleText(doc))
		})
	}
}

func TestRodEngine_DelegatesToCallback(t *testing.T) {
	e := NewRodEngine(func(_ context.Context, url string) (string, string, error) {
		return "<p>x</p>", "x", nil
	})
	res, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://tj.example/a"})
	require.NoError(t, err)
	require.Equal(t, "browser", res.EngineName)
	require.Equal(t, "x", res.Text)
	require.Equal(t, "https://tj.example/a", res.FinalURL)

	_, err = NewRodEngine(nil).Fetch(context.Background(), &FetchRequest{URL: "https://tj.example/a"})
	require.Error(t, err)
}
