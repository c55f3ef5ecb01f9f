package engine

import (
	"context"
	"fmt"
)

// BrowserFetchFunc loads a page in a browser session and returns its
// rendered HTML and visible text. It is injected by the caller so that the
// engine package never depends on the browser package.
type BrowserFetchFunc func(ctx context.Context, url string) (html, text string, err error)

// RodEngine renders pages in a real browser. Each scan builds its own
// RodEngine around its own session.
type RodEngine struct {
	fetchFunc BrowserFetchFunc
}

// NewRodEngine creates a RodEngine delegating to fetchFunc.
func NewRodEngine(fetchFunc BrowserFetchFunc) *RodEngine {
	return &RodEngine{fetchFunc: fetchFunc}
}

func (e *RodEngine) Name() string { return "browser" }

func (e *RodEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.fetchFunc == nil {
		return nil, fmt.Errorf("%s: fetchFunc not configured", e.Name())
	}

	html, text, err := e.fetchFunc(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name(), err)
	}

	return &FetchResult{
		HTML:       html,
		Text:       text,
		FinalURL:   req.URL,
		EngineName: e.Name(),
	}, nil
}
