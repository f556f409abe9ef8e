// Package aggregator joins recent contracts with their event timelines into
// a view the dashboard can render.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thaveesi/blackRabbit/internal/domain"
	"github.com/thaveesi/blackRabbit/internal/metrics"
)

var (
	// ErrRecentContracts wraps a failure of the recent-contracts listing.
	// It is fatal to the whole load, unlike per-contract event failures.
	ErrRecentContracts = errors.New("failed to fetch recent contracts")

	// ErrInvalidLimit is returned for a non-positive limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Source is the part of the pentest backend the aggregator reads.
type Source interface {
	RecentContracts(ctx context.Context) ([]domain.ContractSummary, error)
	ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error)
}

// State is the lifecycle state of an Aggregator.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Snapshot is what the aggregator currently holds. View keeps the last
// successful result while a newer load is in flight or after it failed.
type Snapshot struct {
	State State
	View  View
	Err   error
}

// Aggregator fetches recent contracts and their events.
type Aggregator struct {
	source       Source
	fetchTimeout time.Duration
	metrics      *metrics.Metrics

	mu        sync.Mutex
	state     State
	view      View
	lastErr   error
	issued    uint64
	committed uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFetchTimeout bounds each per-contract event request so a hung request
// cannot stall the join indefinitely.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.fetchTimeout = d
	}
}

// WithMetrics records load results into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// New creates an idle aggregator over source.
func New(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:       source,
		fetchTimeout: 10 * time.Second,
		state:        StateIdle,
		view:         NewView(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNop()
	}
	return a
}

// LoadRecentActivity fetches up to limit recent contracts, fetches each
// one's events concurrently and waits for every request to settle. Contracts
// whose events fail to load or are empty are left out. Only a failure of the
// recent-contracts listing fails the call.
//
// Calls may overlap; the aggregator's held view is replaced only by the most
// recently issued call to complete, and each caller still gets its own result.
func (a *Aggregator) LoadRecentActivity(ctx context.Context, limit int) (View, error) {
	if limit <= 0 {
		return View{}, ErrInvalidLimit
	}

	seq := a.begin()
	start := time.Now()

	view, err := a.load(ctx, limit)

	a.metrics.ActivityLoadSeconds.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		a.metrics.ActivityLoadsTotal.WithLabelValues("failed").Inc()
	case view.Empty():
		a.metrics.ActivityLoadsTotal.WithLabelValues("empty").Inc()
	default:
		a.metrics.ActivityLoadsTotal.WithLabelValues("ok").Inc()
	}

	a.commit(seq, view, err)
	return view, err
}

func (a *Aggregator) load(ctx context.Context, limit int) (View, error) {
	contracts, err := a.source.RecentContracts(ctx)
	if err != nil {
		return View{}, fmt.Errorf("%w: %w", ErrRecentContracts, err)
	}
	if len(contracts) > limit {
		contracts = contracts[:limit]
	}

	results := make([]*domain.AggregationEntry, len(contracts))
	var g errgroup.Group
	for i, contract := range contracts {
		g.Go(func() error {
			results[i] = a.fetchEntry(ctx, contract)
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]domain.AggregationEntry, 0, len(results))
	for _, entry := range results {
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return NewView(entries), nil
}

// fetchEntry never fails the batch: errors and empty timelines yield nil.
func (a *Aggregator) fetchEntry(ctx context.Context, contract domain.ContractSummary) *domain.AggregationEntry {
	fetchCtx := ctx
	if a.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.fetchTimeout)
		defer cancel()
	}

	events, err := a.source.ContractEvents(fetchCtx, contract.ContractID)
	if err != nil {
		log.Printf("WARN: dropping contract %s from activity: %v", contract.ContractID, err)
		a.metrics.EntriesDroppedTotal.WithLabelValues("error").Inc()
		return nil
	}
	if len(events) == 0 {
		a.metrics.EntriesDroppedTotal.WithLabelValues("empty").Inc()
		return nil
	}
	return &domain.AggregationEntry{Contract: contract, Events: events}
}

func (a *Aggregator) begin() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.issued++
	a.state = StateLoading
	return a.issued
}

func (a *Aggregator) commit(seq uint64, view View, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq <= a.committed {
		return
	}
	a.committed = seq
	if err != nil {
		a.lastErr = err
		a.state = StateFailed
	} else {
		a.lastErr = nil
		a.view = view
		a.state = StateReady
	}
	if a.issued > a.committed {
		a.state = StateLoading
	}
}

// Snapshot returns the current state and the last successfully loaded view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{State: a.state, View: a.view, Err: a.lastErr}
}

// SelectEntry changes the held view's selection, clamping out-of-range
// indexes to the first entry, and returns the updated view.
func (a *Aggregator) SelectEntry(index int) View {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view = a.view.Select(index)
	return a.view
}
