package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/use-agent/casescan/models"
)

// FetchTextFunc returns the visible text of the page at url.
type FetchTextFunc func(ctx context.Context, url string) (string, error)

// RenderPDFFunc saves the page at url as a PDF at path.
type RenderPDFFunc func(ctx context.Context, url, path string) error

// Scanner classifies a case's documents and renders the first match of
// each category into OutputDir.
type Scanner struct {
	OutputDir string
}

// New creates a Scanner writing artifacts into outputDir.
func New(outputDir string) *Scanner {
	return &Scanner{OutputDir: outputDir}
}

// Scan visits links in order, classifying each page against the categories
// that are still unfound. A page claims at most one category, the first
// unfound one in slice order whose keyword it contains. The scan stops as
// soon as every category is found or the links run out; not finding a
// category is not an error.
//
// Collaborator errors abort the scan. The returned result then holds the
// artifacts rendered before the failure, which are left on disk.
func (s *Scanner) Scan(
	ctx context.Context,
	caseID string,
	links []string,
	categories []Category,
	fetchText FetchTextFunc,
	renderPDF RenderPDFFunc,
) (*Result, error) {
	if err := ValidateCaseID(caseID); err != nil {
		return nil, err
	}
	if err := ValidateCategories(categories); err != nil {
		return nil, err
	}
	if err := ValidateLinks(links); err != nil {
		return nil, err
	}

	result := newResult(caseID, categories, len(links))
	found := make([]bool, len(categories))
	remaining := len(categories)

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return result, categorizeError(err, models.ErrCodeTimeout, "scan interrupted")
		}

		text, err := fetchText(ctx, link)
		result.Fetched++
		if err != nil {
			return result, categorizeError(err, models.ErrCodeFetch, "failed to fetch "+link)
		}
		normalized := Normalize(text)

		for j, c := range categories {
			if found[j] || !c.Matches(normalized) {
				continue
			}

			path := OutputPath(s.OutputDir, caseID, c)
			if err := renderPDF(ctx, link, path); err != nil {
				return result, categorizeError(err, models.ErrCodeRender, "failed to render "+link)
			}
			found[j] = true
			remaining--
			result.Artifacts[c.Name] = Artifact{
				Category:  c.Name,
				Path:      path,
				SourceURL: link,
				LinkIndex: i + 1,
			}
			slog.Info("document found",
				"case", caseID,
				"category", c.Name,
				"link_index", i+1,
				"path", path,
			)
			break
		}

		if remaining == 0 {
			break
		}
	}

	slog.Debug("scan finished",
		"case", caseID,
		"fetched", result.Fetched,
		"links", len(links),
		"missing", result.Missing(),
	)
	return result, nil
}

// ValidateCaseID rejects identifiers that cannot be part of a file name.
func ValidateCaseID(caseID string) error {
	if strings.TrimSpace(caseID) == "" {
		return models.InvalidInput("case id is empty")
	}
	if strings.ContainsAny(caseID, `/\`) || caseID == "." || caseID == ".." {
		return models.InvalidInput("case id %q contains a path separator", caseID)
	}
	return nil
}

// ValidateLinks requires every link to be an absolute http(s) URL.
func ValidateLinks(links []string) error {
	for i, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			return models.NewScanError(models.ErrCodeInvalidInput, fmt.Sprintf("malformed link at position %d", i+1), err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return models.InvalidInput("link %d is not an absolute http(s) URL: %q", i+1, link)
		}
	}
	return nil
}

// categorizeError keeps coded errors as they are and wraps everything else
// with the given code. Context errors become SCAN_TIMEOUT.
func categorizeError(err error, code, msg string) error {
	var scanErr *models.ScanError
	if errors.As(err, &scanErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScanError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScanError(models.ErrCodeTimeout, "scan canceled", err)
	default:
		return models.NewScanError(code, msg, err)
	}
}
