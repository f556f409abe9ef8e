// Package http provides the dashboard's HTTP server: server-rendered pages,
// a small JSON API and the live-feed endpoint.
package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/thaveesi/blackRabbit/internal/aggregator"
	"github.com/thaveesi/blackRabbit/internal/config"
	"github.com/thaveesi/blackRabbit/internal/domain"
	"github.com/thaveesi/blackRabbit/internal/hub"
	"github.com/thaveesi/blackRabbit/internal/metrics"
	"github.com/thaveesi/blackRabbit/internal/policy"
	"github.com/thaveesi/blackRabbit/internal/render"
	"github.com/thaveesi/blackRabbit/internal/tracker"
)

// Backend is the part of the pentest backend the pages read and write
// beyond what the aggregator covers.
type Backend interface {
	ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error)
	GetContract(ctx context.Context, contractID string) (*domain.ContractSummary, error)
	CreateContract(ctx context.Context, sub domain.Submission) (*domain.ContractSummary, error)
	ListReports(ctx context.Context) ([]domain.ReportSummary, error)
	GetReport(ctx context.Context, contractID string) (*domain.Report, error)
}

// Deps are the collaborators of the dashboard server.
type Deps struct {
	Config   *config.Config
	Backend  Backend
	Activity *aggregator.Aggregator
	Trackers *tracker.Registry
	Hub      *hub.Hub
	Policy   *policy.Engine
	Markdown *render.Markdown
	Metrics  *metrics.Metrics

	// LiveFeed serves GET /ws.
	LiveFeed echo.HandlerFunc
}

// Handler handles dashboard HTTP requests.
type Handler struct {
	cfg      *config.Config
	backend  Backend
	activity *aggregator.Aggregator
	trackers *tracker.Registry
	hub      *hub.Hub
	policy   *policy.Engine
	markdown *render.Markdown
	metrics  *metrics.Metrics
	liveFeed echo.HandlerFunc
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	m := d.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	md := d.Markdown
	if md == nil {
		md = render.NewMarkdown()
	}
	return &Handler{
		cfg:      d.Config,
		backend:  d.Backend,
		activity: d.Activity,
		trackers: d.Trackers,
		hub:      d.Hub,
		policy:   d.Policy,
		markdown: md,
		metrics:  m,
		liveFeed: d.LiveFeed,
	}
}

// NewServer creates and configures the dashboard HTTP server.
func NewServer(d Deps) (*echo.Echo, error) {
	templates, err := NewTemplates()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = templates

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	NewHandler(d).RegisterRoutes(e)
	return e, nil
}

// RegisterRoutes registers the dashboard routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Pages
	e.GET("/", h.Dashboard)
	e.GET("/contracts", h.NewContractForm)
	e.POST("/contracts", h.SubmitContractForm)
	e.GET("/contract/:contract_id", h.ContractDetail)
	e.GET("/reports", h.Reports)
	e.GET("/report/:contract_id", h.Report)

	// JSON API
	e.GET("/api/activity", h.GetActivity)
	e.GET("/api/activity/snapshot", h.GetActivitySnapshot)
	e.PUT("/api/activity/selected", h.SelectActivityEntry)
	e.GET("/api/contracts/:contract_id/events", h.GetContractEvents)
	e.POST("/api/contracts", h.CreateContract)

	if h.liveFeed != nil {
		e.GET("/ws", h.liveFeed)
	}
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	connections, tracked := 0, 0
	if h.hub != nil {
		connections = h.hub.GetConnectionCount()
	}
	if h.trackers != nil {
		tracked = h.trackers.Len()
	}

	snap := h.activity.Snapshot()
	activity := map[string]interface{}{
		"state":   snap.State,
		"entries": len(snap.View.Entries),
	}
	if snap.Err != nil {
		activity["error"] = snap.Err.Error()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": connections,
		"tracked":     tracked,
		"activity":    activity,
	})
}
