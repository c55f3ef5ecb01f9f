package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Dispatcher fetches a document with the cheapest engine that yields
// readable text. Engines start in order, each after its escalation delay,
// and the first usable result wins; the rest are cancelled.
type Dispatcher struct {
	engines []Engine
	delays  []time.Duration
	memory  *DomainMemory
}

// NewDispatcher races engines in order. engines[i] starts delays[i] after
// the race begins; missing delays are zero. memory may be nil.
func NewDispatcher(engines []Engine, delays []time.Duration, memory *DomainMemory) *Dispatcher {
	d := make([]time.Duration, len(engines))
	copy(d, delays)
	return &Dispatcher{engines: engines, delays: d, memory: memory}
}

// Dispatch returns the first usable result for req. A host's remembered
// winner is tried alone first; when it fails the host is forgotten and
// every engine races. If all engines fail the error joins their errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	host := hostOf(req.URL)

	if eng := d.remembered(host); eng != nil {
		res, err := fetchUsable(ctx, eng, req)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		slog.Info("remembered engine failed, racing all engines",
			"host", host, "engine", eng.Name(), "error", err)
		d.memory.Delete(host)
	}

	res, err := d.race(ctx, req)
	if err != nil {
		return nil, err
	}
	d.memory.Set(host, res.EngineName)
	return res, nil
}

func (d *Dispatcher) remembered(host string) Engine {
	name := d.memory.Get(host)
	if name == "" {
		return nil
	}
	for _, eng := range d.engines {
		if eng.Name() == name {
			return eng
		}
	}
	return nil
}

type attempt struct {
	res *FetchResult
	err error
}

func (d *Dispatcher) race(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so losers never block after the winner returns
	attempts := make(chan attempt, len(d.engines))
	for i, eng := range d.engines {
		go func(e Engine, delay time.Duration) {
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-raceCtx.Done():
					t.Stop()
					attempts <- attempt{err: fmt.Errorf("%s: not started: %w", e.Name(), raceCtx.Err())}
					return
				case <-t.C:
				}
			}
			res, err := fetchUsable(raceCtx, e, req)
			if err != nil {
				slog.Debug("engine failed", "engine", e.Name(), "url", req.URL, "error", err)
			}
			attempts <- attempt{res: res, err: err}
		}(eng, d.delays[i])
	}

	var errs []error
	for range d.engines {
		a := <-attempts
		if a.err == nil {
			slog.Debug("engine won race", "engine", a.res.EngineName, "url", req.URL)
			return a.res, nil
		}
		errs = append(errs, a.err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("dispatcher: no engines for %s", req.URL)
	}
	return nil, errors.Join(errs...)
}

// fetchUsable treats a page without visible text as a failure: it is
// usually a JavaScript shell the plain HTTP engine cannot render.
func fetchUsable(ctx context.Context, e Engine, req *FetchRequest) (*FetchResult, error) {
	res, err := e.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, fmt.Errorf("%s: page has no visible text", e.Name())
	}
	return res, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
