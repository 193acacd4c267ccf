package depgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohankatakam/impactgraph/internal/metrics"
)

// Holder owns the current Graph. Readers take a snapshot with Current and
// keep using it for the whole analysis; Reload builds a new Graph and swaps
// the pointer, so a snapshot is never mutated underneath its reader.
type Holder struct {
	current  atomic.Pointer[Graph]
	builder  *Builder
	paths    []string
	logger   *slog.Logger
	reloadMu sync.Mutex

	loadedAt  atomic.Int64
	lastStats atomic.Pointer[BuildStats]
}

// NewHolder creates a holder that loads manifests from paths
func NewHolder(builder *Builder, paths []string) *Holder {
	if builder == nil {
		builder = NewBuilder()
	}
	h := &Holder{
		builder: builder,
		paths:   paths,
		logger:  slog.Default().With("component", "depgraph_holder"),
	}
	h.current.Store(Empty())
	return h
}

// NewStaticHolder wraps an already built graph
func NewStaticHolder(g *Graph) *Holder {
	h := NewHolder(nil, nil)
	if g != nil {
		h.current.Store(g)
		h.loadedAt.Store(time.Now().UnixNano())
	}
	return h
}

// Current returns the active graph snapshot
func (h *Holder) Current() *Graph {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

// Paths returns the manifest paths being loaded
func (h *Holder) Paths() []string {
	return h.paths
}

// LoadedAt returns when the current graph was installed
func (h *Holder) LoadedAt() time.Time {
	if h == nil {
		return time.Time{}
	}
	ns := h.loadedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastStats returns the stats of the most recent build
func (h *Holder) LastStats() BuildStats {
	if s := h.lastStats.Load(); s != nil {
		return *s
	}
	return BuildStats{}
}

// Reload rebuilds the graph from the manifest paths and installs it.
// Manifest files that fail to parse are reported in the returned error but
// do not prevent the rest from loading. If nothing could be loaded, or the
// rebuild has no components while the current graph has some (a manifest
// read mid-save), the current graph is kept.
func (h *Holder) Reload(ctx context.Context) (BuildStats, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	manifests, errs := LoadManifests(h.paths)
	for _, err := range errs {
		h.logger.Warn("manifest skipped", "error", err)
	}
	if len(manifests) == 0 && len(errs) > 0 {
		metrics.GraphReloads.WithLabelValues("error").Inc()
		return BuildStats{}, errors.Join(errs...)
	}

	g, stats := h.builder.Build(ctx, manifests)
	if n := len(h.Current().ComponentIDs()); stats.Components == 0 && n > 0 {
		h.logger.Warn("reload produced an empty graph, keeping current", "current_components", n)
		metrics.GraphReloads.WithLabelValues("error").Inc()
		return stats, errors.Join(append(errs, fmt.Errorf("reload produced no components, keeping %d", n))...)
	}
	h.Swap(g)
	h.lastStats.Store(&stats)
	status := "success"
	if len(errs) > 0 {
		status = "partial"
	}
	metrics.GraphReloads.WithLabelValues(status).Inc()
	return stats, errors.Join(errs...)
}

// Swap installs g and returns the previous graph
func (h *Holder) Swap(g *Graph) *Graph {
	if g == nil {
		g = Empty()
	}
	h.loadedAt.Store(time.Now().UnixNano())
	return h.current.Swap(g)
}
