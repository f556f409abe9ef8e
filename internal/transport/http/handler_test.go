package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/aggregator"
	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/domain"
	"github.com/thaveesi/blackRabbit/internal/hub"
	"github.com/thaveesi/blackRabbit/internal/policy"
	"github.com/thaveesi/blackRabbit/internal/tracker"
)

const validAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

type fakeBackend struct {
	contracts []domain.ContractSummary
	recentErr error
	events    map[string][]domain.Event
	eventsErr error
	details   map[string]domain.ContractSummary
	createErr error
	created   []domain.Submission
	reports   []domain.ReportSummary
	report    map[string]domain.Report
}

func (f *fakeBackend) RecentContracts(ctx context.Context) ([]domain.ContractSummary, error) {
	return f.contracts, f.recentErr
}

func (f *fakeBackend) ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events[contractID], nil
}

func (f *fakeBackend) GetContract(ctx context.Context, contractID string) (*domain.ContractSummary, error) {
	c, ok := f.details[contractID]
	if !ok {
		return nil, &pentest.APIError{StatusCode: http.StatusNotFound, Message: "Contract not found"}
	}
	return &c, nil
}

func (f *fakeBackend) CreateContract(ctx context.Context, sub domain.Submission) (*domain.ContractSummary, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, sub)
	return &domain.ContractSummary{ContractID: "contract_1234abcd", Name: sub.Name, Address: sub.Address}, nil
}

func (f *fakeBackend) ListReports(ctx context.Context) ([]domain.ReportSummary, error) {
	return f.reports, nil
}

func (f *fakeBackend) GetReport(ctx context.Context, contractID string) (*domain.Report, error) {
	r, ok := f.report[contractID]
	if !ok {
		return nil, &pentest.APIError{StatusCode: http.StatusNotFound, Message: "Report not found"}
	}
	return &r, nil
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		contracts: []domain.ContractSummary{
			{ContractID: "c1", Name: "Vault"},
			{ContractID: "c2", Name: "Token"},
			{ContractID: "c3", Name: "Idle"},
		},
		events: map[string][]domain.Event{
			"c1": {{ID: "e1", ContractID: "c1", Agent: domain.AgentPlanner, AgentLabel: "planner", Action: "mapped attack surface",
				Timestamp: time.Date(2024, 10, 12, 14, 40, 0, 0, time.UTC)}},
			"c2": {{ID: "e2", ContractID: "c2", Agent: domain.AgentExecutor, AgentLabel: "executor", Action: "deployed to testnet"}},
		},
		details: map[string]domain.ContractSummary{
			"c1": {ContractID: "c1", Name: "Vault", SourceCode: "contract Vault {}"},
		},
		reports: []domain.ReportSummary{
			{ContractID: "c1", ContractName: "Vault", CreatedAt: time.Date(2024, 10, 12, 15, 0, 0, 0, time.UTC)},
		},
		report: map[string]domain.Report{
			"c1": {ContractName: "Vault", Results: "# Findings\n\nReentrancy in `withdraw`.\n"},
		},
	}
}

type testEnv struct {
	echo     *echo.Echo
	handler  *Handler
	backend  *fakeBackend
	trackers *tracker.Registry
}

func newTestEnv(t *testing.T, backend *fakeBackend) *testEnv {
	t.Helper()
	templates, err := NewTemplates()
	require.NoError(t, err)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	trackers := tracker.NewRegistry(backend, time.Hour, nil)
	t.Cleanup(trackers.Close)

	e := echo.New()
	e.Renderer = templates

	h := NewHandler(Deps{
		Config:   config.FromEnv(),
		Backend:  backend,
		Activity: aggregator.New(backend),
		Trackers: trackers,
		Hub:      hub.NewHub(),
		Policy:   engine,
	})
	return &testEnv{echo: e, handler: h, backend: backend, trackers: trackers}
}

func (env *testEnv) request(method, target, body, contentType string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return env.echo.NewContext(req, rec), rec
}

func TestDashboardRendersSelectedEntry(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodGet, "/?selected=1", "", "")
	require.NoError(t, env.handler.Dashboard(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Vault")
	assert.Contains(t, body, "deployed to testnet")
	assert.NotContains(t, body, "mapped attack surface")
	assert.NotContains(t, body, "Idle", "contracts without events are dropped")
}

func TestDashboardClampsSelection(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodGet, "/?selected=7", "", "")
	require.NoError(t, env.handler.Dashboard(c))
	body := rec.Body.String()
	assert.Contains(t, body, "mapped attack surface")
	assert.Contains(t, body, "10/12/2024")
	assert.Contains(t, body, "14:40:00")
	assert.Contains(t, body, "🧭 planner")
}

func TestDashboardEmptyAndFailure(t *testing.T) {
	backend := newBackend()
	backend.events = nil
	env := newTestEnv(t, backend)

	c, rec := env.request(http.MethodGet, "/", "", "")
	require.NoError(t, env.handler.Dashboard(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No data available")

	backend.recentErr = errors.New("connection refused")
	c, rec = env.request(http.MethodGet, "/", "", "")
	require.NoError(t, env.handler.Dashboard(c))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to fetch recent contracts")
}

func TestGetActivityJSON(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodGet, "/api/activity", "", "")
	require.NoError(t, env.handler.GetActivity(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var view aggregator.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Len(t, view.Entries, 2)
	assert.Equal(t, 0, view.Selected)
	assert.Equal(t, "c1", view.Entries[0].Contract.ContractID)

	env.backend.recentErr = errors.New("connection refused")
	c, rec = env.request(http.MethodGet, "/api/activity", "", "")
	require.NoError(t, env.handler.GetActivity(c))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestSubmitContractFormRedirects(t *testing.T) {
	env := newTestEnv(t, newBackend())

	form := url.Values{"name": {" Vault "}, "address": {validAddress}}
	c, rec := env.request(http.MethodPost, "/contracts", form.Encode(), echo.MIMEApplicationForm)
	require.NoError(t, env.handler.SubmitContractForm(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/contract/contract_1234abcd", rec.Header().Get(echo.HeaderLocation))
	require.Len(t, env.backend.created, 1)
	assert.Equal(t, "Vault", env.backend.created[0].Name)
}

func TestSubmitContractFormPolicyRejection(t *testing.T) {
	env := newTestEnv(t, newBackend())

	form := url.Values{"name": {"Vault"}, "address": {"0x1234"}}
	c, rec := env.request(http.MethodPost, "/contracts", form.Encode(), echo.MIMEApplicationForm)
	require.NoError(t, env.handler.SubmitContractForm(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "address must be 0x followed by 40 hex digits")
	assert.Contains(t, body, `value="Vault"`)
	assert.Contains(t, body, `value="0x1234"`)
	assert.Empty(t, env.backend.created)
}

func TestSubmitContractFormBackendFailure(t *testing.T) {
	backend := newBackend()
	backend.createErr = &pentest.APIError{StatusCode: http.StatusBadRequest, Message: "Name and address are required"}
	env := newTestEnv(t, backend)

	form := url.Values{"name": {"Vault"}, "address": {validAddress}}
	c, rec := env.request(http.MethodPost, "/contracts", form.Encode(), echo.MIMEApplicationForm)
	require.NoError(t, env.handler.SubmitContractForm(c))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Name and address are required")
	assert.Contains(t, rec.Body.String(), validAddress)
}

func TestCreateContractAPI(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodPost, "/api/contracts", `{"name":"Vault","address":"`+validAddress+`"}`, echo.MIMEApplicationJSON)
	require.NoError(t, env.handler.CreateContract(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Contract domain.ContractSummary `json:"contract"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "contract_1234abcd", resp.Contract.ContractID)

	c, rec = env.request(http.MethodPost, "/api/contracts", `{"name":"","address":"`+validAddress+`"}`, echo.MIMEApplicationJSON)
	require.NoError(t, env.handler.CreateContract(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"name is required"}`, rec.Body.String())

	c, rec = env.request(http.MethodPost, "/api/contracts", `{"name":`, echo.MIMEApplicationJSON)
	require.NoError(t, env.handler.CreateContract(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContractDetail(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodGet, "/contract/c1", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c1")
	require.NoError(t, env.handler.ContractDetail(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Penetration Test Results - Vault")
	assert.Contains(t, body, "contract Vault {}")
	assert.Contains(t, body, "mapped attack surface")
	assert.Contains(t, body, `data-contract-id="c1"`)

	c, rec = env.request(http.MethodGet, "/contract/missing", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("missing")
	require.NoError(t, env.handler.ContractDetail(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContractDetailEventsFailure(t *testing.T) {
	backend := newBackend()
	backend.eventsErr = errors.New("timeout")
	env := newTestEnv(t, backend)

	c, rec := env.request(http.MethodGet, "/contract/c1", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c1")
	require.NoError(t, env.handler.ContractDetail(c))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to fetch contract events")
}

func TestGetContractEventsPrefersTracker(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodGet, "/api/contracts/c2/events", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c2")
	require.NoError(t, env.handler.GetContractEvents(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ContractEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Tracked)
	require.Len(t, resp.Events, 1)

	tr := env.trackers.Acquire("c2")
	require.Eventually(t, tr.Ready, time.Second, 5*time.Millisecond)

	c, rec = env.request(http.MethodGet, "/api/contracts/c2/events", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c2")
	require.NoError(t, env.handler.GetContractEvents(c))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Tracked)
	assert.Equal(t, "deployed to testnet", resp.Events[0].Action)
}

// flakyEvents succeeds on its first call and fails afterwards.
type flakyEvents struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyEvents) ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return []domain.Event{{ID: "e1", ContractID: contractID, Action: "plan"}}, nil
	}
	return nil, errors.New("backend unreachable")
}

func TestGetContractEventsReportsTrackerError(t *testing.T) {
	env := newTestEnv(t, newBackend())
	trackers := tracker.NewRegistry(&flakyEvents{}, 10*time.Millisecond, nil)
	t.Cleanup(trackers.Close)
	env.handler.trackers = trackers

	tr := trackers.Acquire("c1")
	require.Eventually(t, func() bool { return tr.Ready() && tr.LastError() != nil }, 2*time.Second, 5*time.Millisecond)

	c, rec := env.request(http.MethodGet, "/api/contracts/c1/events", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c1")
	require.NoError(t, env.handler.GetContractEvents(c))

	var resp ContractEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Tracked)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "plan", resp.Events[0].Action)
	assert.Contains(t, resp.LastError, "backend unreachable")
}

func TestActivitySnapshotAndSelection(t *testing.T) {
	backend := newBackend()
	env := newTestEnv(t, backend)

	snapshot := func() ActivitySnapshotResponse {
		t.Helper()
		c, rec := env.request(http.MethodGet, "/api/activity/snapshot", "", "")
		require.NoError(t, env.handler.GetActivitySnapshot(c))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ActivitySnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}
	selectEntry := func(body string) aggregator.View {
		t.Helper()
		c, rec := env.request(http.MethodPut, "/api/activity/selected", body, echo.MIMEApplicationJSON)
		require.NoError(t, env.handler.SelectActivityEntry(c))
		require.Equal(t, http.StatusOK, rec.Code)
		var view aggregator.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		return view
	}

	snap := snapshot()
	assert.Equal(t, aggregator.StateIdle, snap.State)
	assert.Equal(t, aggregator.NoSelection, snap.View.Selected)

	c, _ := env.request(http.MethodGet, "/api/activity", "", "")
	require.NoError(t, env.handler.GetActivity(c))

	snap = snapshot()
	assert.Equal(t, aggregator.StateReady, snap.State)
	require.Len(t, snap.View.Entries, 2)

	assert.Equal(t, 1, selectEntry(`{"selected":1}`).Selected)
	assert.Equal(t, 1, snapshot().View.Selected)
	assert.Equal(t, 0, selectEntry(`{"selected":9}`).Selected)

	backend.recentErr = errors.New("connection refused")
	c, rec := env.request(http.MethodGet, "/api/activity", "", "")
	require.NoError(t, env.handler.GetActivity(c))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	snap = snapshot()
	assert.Equal(t, aggregator.StateFailed, snap.State)
	assert.Contains(t, snap.Error, "connection refused")
	assert.Len(t, snap.View.Entries, 2)

	c, rec = env.request(http.MethodGet, "/health", "", "")
	require.NoError(t, env.handler.Health(c))
	var health struct {
		Activity struct {
			State   string `json:"state"`
			Entries int    `json:"entries"`
			Error   string `json:"error"`
		} `json:"activity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "failed", health.Activity.State)
	assert.Equal(t, 2, health.Activity.Entries)
	assert.Contains(t, health.Activity.Error, "connection refused")
}

func TestReports(t *testing.T) {
	env := newTestEnv(t, newBackend())

	c, rec := env.request(http.MethodGet, "/reports", "", "")
	require.NoError(t, env.handler.Reports(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<a href="/report/c1">Vault</a>`)
	assert.Contains(t, rec.Body.String(), "10/12/2024")

	c, rec = env.request(http.MethodGet, "/report/c1", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c1")
	require.NoError(t, env.handler.Report(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<h1 id="findings">Findings</h1>`)
	assert.Contains(t, rec.Body.String(), "<code>withdraw</code>")

	c, rec = env.request(http.MethodGet, "/report/c9", "", "")
	c.SetParamNames("contract_id")
	c.SetParamValues("c9")
	require.NoError(t, env.handler.Report(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, newBackend())
	env.trackers.Acquire("c1")

	c, rec := env.request(http.MethodGet, "/health", "", "")
	if err := env.handler.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	assert.JSONEq(t, `{"status":"healthy","connections":0,"tracked":1,"activity":{"state":"idle","entries":0}}`, rec.Body.String())
}

func TestNewServerServesMetrics(t *testing.T) {
	backend := newBackend()
	e, err := NewServer(Deps{
		Config:   config.FromEnv(),
		Backend:  backend,
		Activity: aggregator.New(backend),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Vault")
}
