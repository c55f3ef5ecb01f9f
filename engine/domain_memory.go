package engine

import (
	"sync"
	"time"
)

const memorySweepEvery = time.Hour

type remembered struct {
	engine    string
	expiresAt time.Time
}

// DomainMemory remembers which engine last won for each portal host, so
// later documents of the same portal skip the race. Entries expire after
// ttl. A nil *DomainMemory remembers nothing.
type DomainMemory struct {
	mu      sync.Mutex
	entries map[string]remembered
	ttl     time.Duration
	now     func() time.Time

	done chan struct{}
	once sync.Once
}

// NewDomainMemory creates a DomainMemory and starts an hourly sweep of
// expired hosts. Call Stop to end it.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	dm := newDomainMemory(ttl, time.Now)
	go dm.sweepLoop()
	return dm
}

func newDomainMemory(ttl time.Duration, now func() time.Time) *DomainMemory {
	return &DomainMemory{
		entries: make(map[string]remembered),
		ttl:     ttl,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Get returns the engine remembered for host, or "".
func (dm *DomainMemory) Get(host string) string {
	if dm == nil {
		return ""
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	e, ok := dm.entries[host]
	if !ok {
		return ""
	}
	if !dm.now().Before(e.expiresAt) {
		delete(dm.entries, host)
		return ""
	}
	return e.engine
}

// Set remembers engine as the winner for host.
func (dm *DomainMemory) Set(host, engine string) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	dm.entries[host] = remembered{engine: engine, expiresAt: dm.now().Add(dm.ttl)}
	dm.mu.Unlock()
}

// Delete forgets host, e.g. after the remembered engine failed.
func (dm *DomainMemory) Delete(host string) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	delete(dm.entries, host)
	dm.mu.Unlock()
}

// Len is the number of hosts currently remembered, expired ones included
// until the next sweep.
func (dm *DomainMemory) Len() int {
	if dm == nil {
		return 0
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.entries)
}

// Stop ends the background sweep. Safe to call twice.
func (dm *DomainMemory) Stop() {
	if dm == nil {
		return
	}
	dm.once.Do(func() { close(dm.done) })
}

func (dm *DomainMemory) sweep() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	now := dm.now()
	for host, e := range dm.entries {
		if !now.Before(e.expiresAt) {
			delete(dm.entries, host)
		}
	}
}

func (dm *DomainMemory) sweepLoop() {
	ticker := time.NewTicker(memorySweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			dm.sweep()
		}
	}
}
