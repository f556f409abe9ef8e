// Package tracker keeps one contract's event timeline fresh by polling the
// backend on an interval.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/thaveesi/blackRabbit/internal/domain"
	"github.com/thaveesi/blackRabbit/internal/metrics"
)

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 3 * time.Second

// EventSource fetches one contract's events.
type EventSource interface {
	ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error)
}

// UpdateFunc receives every committed event list, in commit order.
type UpdateFunc func(contractID string, events []domain.Event)

// Option configures a Tracker.
type Option func(*Tracker)

// WithFetchTimeout bounds each poll request.
func WithFetchTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		t.fetchTimeout = d
	}
}

// WithOnUpdate registers a callback for committed event lists.
func WithOnUpdate(fn UpdateFunc) Option {
	return func(t *Tracker) {
		t.onUpdate = fn
	}
}

// WithMetrics records poll results into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// Tracker polls a single contract's events until stopped.
//
// Every tick issues its own fetch without waiting for the previous one, so
// responses can arrive out of order. Each fetch is tagged with its issue
// sequence and a response is committed only if it was issued after the
// currently committed one. Failed fetches keep the previous list.
type Tracker struct {
	source       EventSource
	contractID   string
	interval     time.Duration
	fetchTimeout time.Duration
	onUpdate     UpdateFunc
	metrics      *metrics.Metrics

	mu        sync.Mutex
	events    []domain.Event
	ready     bool
	lastErr   error
	issued    uint64
	committed uint64
	stopped   bool

	notifyMu sync.Mutex
	notified uint64

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Start begins tracking contractID: it fetches immediately and then every
// interval until Stop is called or ctx is done.
func Start(ctx context.Context, source EventSource, contractID string, interval time.Duration, opts ...Option) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Tracker{
		source:       source,
		contractID:   contractID,
		interval:     interval,
		fetchTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = metrics.NewNop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(runCtx)
	return t
}

// ContractID returns the tracked contract.
func (t *Tracker) ContractID() string {
	return t.contractID
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *Tracker) poll(ctx context.Context) {
	t.mu.Lock()
	t.issued++
	seq := t.issued
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		fetchCtx := ctx
		if t.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, t.fetchTimeout)
			defer cancel()
		}

		events, err := t.source.ContractEvents(fetchCtx, t.contractID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.metrics.TrackerPollsTotal.WithLabelValues("failed").Inc()
			log.Printf("WARN: refresh of contract %s failed, keeping previous events: %v", t.contractID, err)
			t.mu.Lock()
			t.lastErr = err
			t.mu.Unlock()
			return
		}
		t.metrics.TrackerPollsTotal.WithLabelValues("ok").Inc()
		t.commit(seq, events)
	}()
}

func (t *Tracker) commit(seq uint64, events []domain.Event) {
	t.mu.Lock()
	if t.stopped || seq <= t.committed {
		t.mu.Unlock()
		if !t.stopped {
			t.metrics.TrackerPollsTotal.WithLabelValues("superseded").Inc()
		}
		return
	}
	t.committed = seq
	t.events = events
	t.ready = true
	t.lastErr = nil
	t.mu.Unlock()

	t.notify(seq, events)
}

func (t *Tracker) notify(seq uint64, events []domain.Event) {
	if t.onUpdate == nil {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if seq <= t.notified {
		return
	}
	t.notified = seq
	t.onUpdate(t.contractID, cloneEvents(events))
}

// Events returns a copy of the most recently committed event list.
func (t *Tracker) Events() []domain.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneEvents(t.events)
}

// Ready reports whether at least one fetch has been committed.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// LastError returns the error of the latest failed fetch, cleared by the
// next successful commit.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Stop cancels the timer and any in-flight fetch and waits for them. No
// update callback runs after Stop returns. Stop is idempotent.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		t.cancel()
		t.wg.Wait()
	})
}

func cloneEvents(events []domain.Event) []domain.Event {
	if events == nil {
		return nil
	}
	out := make([]domain.Event, len(events))
	copy(out, events)
	return out
}
