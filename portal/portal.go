// Package portal finds a case's candidate document links on the court's
// public listing page.
package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/casescan/models"
)

// CasePlaceholder is replaced by the query-escaped case ID in a listing URL
// template.
const CasePlaceholder = "{case}"

// HTMLFetcher loads a page and returns its HTML.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// Discoverer reads the listing page of a case and returns its document links
// in page order.
type Discoverer struct {
	listingURL string
	scope      cascadia.Selector // nil reads the whole page
	selector   cascadia.Selector
}

// New validates the listing URL template and compiles the selectors. Links
// are the anchors matching selector inside the first element matching
// scope; an empty scope searches the whole page.
func New(listingURL, scope, selector string) (*Discoverer, error) {
	if !strings.Contains(listingURL, CasePlaceholder) {
		return nil, fmt.Errorf("portal: listing url %q has no %s placeholder", listingURL, CasePlaceholder)
	}
	d := &Discoverer{listingURL: listingURL}
	var err error
	if scope != "" {
		if d.scope, err = cascadia.Compile(scope); err != nil {
			return nil, fmt.Errorf("portal: compile scope %q: %w", scope, err)
		}
	}
	if d.selector, err = cascadia.Compile(selector); err != nil {
		return nil, fmt.Errorf("portal: compile selector %q: %w", selector, err)
	}
	return d, nil
}

// ListingURL returns the listing page address for caseID.
func (d *Discoverer) ListingURL(caseID string) string {
	return strings.ReplaceAll(d.listingURL, CasePlaceholder, url.QueryEscape(caseID))
}

// Discover loads the listing page of caseID through fetcher and extracts
// the candidate links.
func (d *Discoverer) Discover(ctx context.Context, fetcher HTMLFetcher, caseID string) ([]string, error) {
	listing := d.ListingURL(caseID)
	html, err := fetcher.FetchHTML(ctx, listing)
	if err != nil {
		return nil, err
	}
	links, err := ParseLinks(html, listing, d.scope, d.selector)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeFetch, "failed to parse case listing", err)
	}
	slog.Info("links discovered", "case", caseID, "count", len(links), "url", listing)
	return links, nil
}

// ParseLinks returns the hrefs of the anchors matched by sel inside the
// first element matched by scope, resolved against base, in document order.
// A nil scope searches the whole document and a missing scope element yields
// no links. Empty, script, mail and fragment-only hrefs are skipped, as are
// repeats of an earlier link.
func ParseLinks(html, base string, scope, sel cascadia.Selector) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	root := doc.Selection
	if scope != nil {
		root = doc.FindMatcher(scope).First()
	}

	seen := make(map[string]struct{})
	links := []string{}
	root.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			slog.Debug("skipping malformed href", "href", href, "error", err)
			return
		}
		abs := baseURL.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}

		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}
