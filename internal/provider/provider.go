// Package provider defines the fetcher contract for catalog data sources and
// the concrete fetchers for the fixed provider set.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Payload is one provider's complete raw item list for a run. Fetchers must
// fail outright on unrecoverable errors; a Payload is never partial.
type Payload struct {
	SourceID        string    `json:"sourceId"`
	FetchedAt       time.Time `json:"fetchedAt"`
	VersionOrCommit string    `json:"versionOrCommit"`
	ItemsRaw        []any     `json:"itemsRaw"`
}

// Fetcher retrieves one provider's raw item list.
type Fetcher interface {
	// SourceID returns the provider identifier.
	SourceID() string
	// Fetch retrieves the full raw item list.
	Fetch(ctx context.Context) (*Payload, error)
}

// Registry manages the configured provider fetchers.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRegistry creates an empty fetcher registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register adds a fetcher, replacing any previous one for the same source.
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[f.SourceID()] = f
}

// Get returns the fetcher for a source id, or nil if not registered.
func (r *Registry) Get(sourceID string) Fetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchers[sourceID]
}

// List returns all registered source ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.fetchers))
	for id := range r.fetchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
