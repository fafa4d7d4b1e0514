package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// Registry resolves the fetcher configured for each source.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[model.Source]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[model.Source]Fetcher)}
}

// Register sets the fetcher for src, replacing any previous one.
func (r *Registry) Register(src model.Source, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[src] = f
}

// Fetcher returns the fetcher registered for src.
func (r *Registry) Fetcher(src model.Source) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[src]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for source %q", src)
	}
	return f, nil
}

// Sources returns the registered sources in sorted order.
func (r *Registry) Sources() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.fetchers))
	for src := range r.fetchers {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
