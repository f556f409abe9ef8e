package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/domain"
)

type fakeSource struct {
	mu        sync.Mutex
	contracts []domain.ContractSummary
	recentErr error
	events    map[string][]domain.Event
	failures  map[string]error
	delays    map[string]time.Duration
	requested []string
}

func (f *fakeSource) RecentContracts(ctx context.Context) ([]domain.ContractSummary, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.contracts, nil
}

func (f *fakeSource) ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error) {
	f.mu.Lock()
	f.requested = append(f.requested, contractID)
	delay := f.delays[contractID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.failures[contractID]; err != nil {
		return nil, err
	}
	return f.events[contractID], nil
}

func (f *fakeSource) requestedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

func contracts(ids ...string) []domain.ContractSummary {
	out := make([]domain.ContractSummary, len(ids))
	for i, id := range ids {
		out[i] = domain.ContractSummary{ContractID: id, Name: "Contract " + id}
	}
	return out
}

func oneEvent(contractID string) []domain.Event {
	return []domain.Event{{ID: "e-" + contractID, ContractID: contractID, Agent: domain.AgentPlanner, Action: "start"}}
}

func entryIDs(v View) []string {
	ids := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		ids[i] = e.Contract.ContractID
	}
	return ids
}

func TestLoadDropsFailedAndEmptyContractsInOrder(t *testing.T) {
	src := &fakeSource{
		contracts: contracts("c1", "c2", "c3", "c4"),
		events: map[string][]domain.Event{
			"c1": oneEvent("c1"),
			"c3": oneEvent("c3"),
			"c4": oneEvent("c4"),
		},
		failures: map[string]error{"c4": errors.New("connection refused")},
	}

	view, err := New(src).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3"}, entryIDs(view))
	assert.Equal(t, 0, view.Selected)
}

func TestLoadIsBoundedByLimit(t *testing.T) {
	src := &fakeSource{
		contracts: contracts("c1", "c2", "c3", "c4", "c5", "c6"),
		events: map[string][]domain.Event{
			"c1": oneEvent("c1"), "c2": oneEvent("c2"), "c3": oneEvent("c3"),
			"c4": oneEvent("c4"), "c5": oneEvent("c5"), "c6": oneEvent("c6"),
		},
	}

	view, err := New(src).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, entryIDs(view))
	assert.ElementsMatch(t, []string{"c1", "c2", "c3", "c4"}, src.requestedIDs())
}

func TestLoadWaitsForEverySettledRequest(t *testing.T) {
	delay := 150 * time.Millisecond
	src := &fakeSource{
		contracts: contracts("c1", "c2"),
		events:    map[string][]domain.Event{"c1": oneEvent("c1"), "c2": oneEvent("c2")},
		delays:    map[string]time.Duration{"c2": delay},
	}

	start := time.Now()
	view, err := New(src).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay)
	assert.Equal(t, []string{"c1", "c2"}, entryIDs(view))
}

func TestLoadFetchTimeoutDropsHungContract(t *testing.T) {
	src := &fakeSource{
		contracts: contracts("c1", "c2"),
		events:    map[string][]domain.Event{"c1": oneEvent("c1"), "c2": oneEvent("c2")},
		delays:    map[string]time.Duration{"c2": time.Minute},
	}

	view, err := New(src, WithFetchTimeout(50*time.Millisecond)).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, entryIDs(view))
}

func TestLoadRecentFailureIsFatal(t *testing.T) {
	src := &fakeSource{recentErr: errors.New("backend down")}
	agg := New(src)

	_, err := agg.LoadRecentActivity(context.Background(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecentContracts)

	snap := agg.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Error(t, snap.Err)
}

func TestLoadEmptyIsNotAnError(t *testing.T) {
	src := &fakeSource{contracts: contracts("c1")}

	view, err := New(src).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, view.Empty())
	assert.Equal(t, NoSelection, view.Selected)
	_, ok := view.Current()
	assert.False(t, ok)
}

func TestLoadRejectsNonPositiveLimit(t *testing.T) {
	_, err := New(&fakeSource{}).LoadRecentActivity(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestStateMachineKeepsPreviousViewWhileLoading(t *testing.T) {
	src := &fakeSource{
		contracts: contracts("c1"),
		events:    map[string][]domain.Event{"c1": oneEvent("c1")},
	}
	agg := New(src)
	assert.Equal(t, StateIdle, agg.Snapshot().State)

	_, err := agg.LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, StateReady, agg.Snapshot().State)

	src.mu.Lock()
	src.delays = map[string]time.Duration{"c1": 200 * time.Millisecond}
	src.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = agg.LoadRecentActivity(context.Background(), 4)
	}()

	require.Eventually(t, func() bool { return agg.Snapshot().State == StateLoading }, time.Second, 5*time.Millisecond)
	snap := agg.Snapshot()
	assert.Equal(t, []string{"c1"}, entryIDs(snap.View))

	<-done
	assert.Equal(t, StateReady, agg.Snapshot().State)
}

func TestFailedLoadKeepsPreviousView(t *testing.T) {
	src := &fakeSource{
		contracts: contracts("c1"),
		events:    map[string][]domain.Event{"c1": oneEvent("c1")},
	}
	agg := New(src)
	_, err := agg.LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)

	src.recentErr = errors.New("backend down")
	_, err = agg.LoadRecentActivity(context.Background(), 4)
	require.Error(t, err)

	snap := agg.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, []string{"c1"}, entryIDs(snap.View))
}

// slowFirstSource answers the first recent-contracts call slowly with stale
// data and every later call immediately with fresh data.
type slowFirstSource struct {
	calls atomic.Int32
}

func (s *slowFirstSource) RecentContracts(ctx context.Context) ([]domain.ContractSummary, error) {
	if s.calls.Add(1) == 1 {
		time.Sleep(150 * time.Millisecond)
		return contracts("stale"), nil
	}
	return contracts("fresh"), nil
}

func (s *slowFirstSource) ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error) {
	return oneEvent(contractID), nil
}

func TestLatestIssuedLoadWins(t *testing.T) {
	agg := New(&slowFirstSource{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		view, err := agg.LoadRecentActivity(context.Background(), 4)
		assert.NoError(t, err)
		assert.Equal(t, []string{"stale"}, entryIDs(view))
	}()

	time.Sleep(30 * time.Millisecond)
	_, err := agg.LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	wg.Wait()

	snap := agg.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, []string{"fresh"}, entryIDs(snap.View))
}

func TestSelectEntryClampsOutOfRange(t *testing.T) {
	src := &fakeSource{
		contracts: contracts("c1", "c2", "c3"),
		events:    map[string][]domain.Event{"c1": oneEvent("c1"), "c2": oneEvent("c2"), "c3": oneEvent("c3")},
	}
	agg := New(src)
	_, err := agg.LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, 2, agg.SelectEntry(2).Selected)
	assert.Equal(t, 0, agg.SelectEntry(3).Selected)
	assert.Equal(t, 1, agg.SelectEntry(1).Selected)
	assert.Equal(t, 0, agg.SelectEntry(-1).Selected)
}

func TestSelectOnEmptyViewIsNoop(t *testing.T) {
	v := NewView(nil).Select(2)
	assert.Equal(t, NoSelection, v.Selected)
	assert.True(t, v.Empty())
}

func TestEndToEndAgainstHTTPBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/contracts/recent", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"contract_id":"c1","name":"Foo"},{"contract_id":"c2","name":"Bar"}]`)
	})
	mux.HandleFunc("/contracts/c1/events", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"events":[{"agent":"planner","action":"start"}]}`)
	})
	mux.HandleFunc("/contracts/c2/events", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"events":[]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	view, err := New(pentest.NewClient(server.URL)).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)

	current, ok := view.Current()
	require.True(t, ok)
	assert.Equal(t, "c1", current.Contract.ContractID)
	assert.Equal(t, "Foo", current.Contract.Name)
	require.Len(t, current.Events, 1)
	assert.Equal(t, domain.AgentPlanner, current.Events[0].Agent)
	assert.Equal(t, "start", current.Events[0].Action)
}

func TestEndToEndNon2xxEventsDropsEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/contracts/recent", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"contract_id":"c1","name":"Foo"},{"contract_id":"c2","name":"Bar"}]`)
	})
	mux.HandleFunc("/contracts/c1/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/contracts/c2/events", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"events":[{"agent":"executor","action":"deploy"}]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	view, err := New(pentest.NewClient(server.URL)).LoadRecentActivity(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, entryIDs(view))
}
