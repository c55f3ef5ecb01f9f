// Package engine reads documents for the "http" and "auto" fetch modes: a
// fingerprinted plain HTTP client, a browser engine bound to a scan's
// session, and a dispatcher racing them.
package engine

import (
	"context"
	"time"
)

// Engine fetches one document.
type Engine interface {
	// Name identifies the engine in results and domain memory.
	Name() string

	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest describes one document to read.
type FetchRequest struct {
	URL string

	// Headers are sent in addition to, or instead of, the engine defaults.
	Headers map[string]string

	// Timeout shortens the engine's own deadline when set.
	Timeout time.Duration
}

// FetchResult is a fetched document.
type FetchResult struct {
	HTML  string
	Text  string // visible body text, scripts and styles removed
	Title string

	StatusCode int // 0 when the engine does not see the HTTP status
	FinalURL   string
	EngineName string
}
