package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/thaveesi/blackRabbit/internal/metrics"
)

type registryEntry struct {
	tracker *Tracker
	refs    int
}

// Registry shares one Tracker per contract between every viewer of that
// contract. A tracker starts on the first Acquire and stops when the last
// holder releases it.
type Registry struct {
	source   EventSource
	interval time.Duration
	opts     []Option
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

// NewRegistry creates a registry whose trackers poll source every interval.
func NewRegistry(source EventSource, interval time.Duration, m *metrics.Metrics, opts ...Option) *Registry {
	if m == nil {
		m = metrics.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		source:   source,
		interval: interval,
		opts:     append([]Option{WithMetrics(m)}, opts...),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*registryEntry),
	}
}

// Acquire returns the tracker for contractID, starting it if needed, and
// takes a reference that must be returned with Release. It returns nil
// once the registry is closed.
func (r *Registry) Acquire(contractID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	entry, ok := r.entries[contractID]
	if !ok {
		entry = &registryEntry{
			tracker: Start(r.ctx, r.source, contractID, r.interval, r.opts...),
		}
		r.entries[contractID] = entry
		r.metrics.TrackersActive.Inc()
	}
	entry.refs++
	return entry.tracker
}

// Release drops one reference to contractID's tracker and stops it when no
// references remain.
func (r *Registry) Release(contractID string) {
	r.mu.Lock()
	entry, ok := r.entries[contractID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, contractID)
	r.metrics.TrackersActive.Dec()
	r.mu.Unlock()

	entry.tracker.Stop()
}

// Lookup returns the running tracker for contractID without taking a
// reference.
func (r *Registry) Lookup(contractID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[contractID]
	if !ok {
		return nil, false
	}
	return entry.tracker, true
}

// Len returns the number of contracts being tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every tracker. Later Acquire calls return nil.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	r.cancel()
	for _, entry := range entries {
		entry.tracker.Stop()
		r.metrics.TrackersActive.Dec()
	}
}
