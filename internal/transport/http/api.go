package http

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/aggregator"
	"github.com/thaveesi/blackRabbit/internal/domain"
)

// ContractEventsResponse is the response of GET /api/contracts/:contract_id/events.
type ContractEventsResponse struct {
	ContractID string         `json:"contract_id"`
	Events     []domain.Event `json:"events"`
	Tracked    bool           `json:"tracked"`
	LastError  string         `json:"last_error,omitempty"`
}

// ActivitySnapshotResponse is the response of GET /api/activity/snapshot.
type ActivitySnapshotResponse struct {
	State aggregator.State `json:"state"`
	View  aggregator.View  `json:"view"`
	Error string           `json:"error,omitempty"`
}

// SelectEntryRequest is the body of PUT /api/activity/selected.
type SelectEntryRequest struct {
	Selected int `json:"selected"`
}

// GetActivity returns the recent activity view as JSON.
func (h *Handler) GetActivity(c echo.Context) error {
	view, err := h.activity.LoadRecentActivity(c.Request().Context(), h.cfg.RecentLimit)
	if err != nil {
		log.Printf("Failed to load recent activity: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, selectFromQuery(c, view))
}

// GetActivitySnapshot returns the aggregator's held view and load state
// without fetching.
func (h *Handler) GetActivitySnapshot(c echo.Context) error {
	snap := h.activity.Snapshot()
	resp := ActivitySnapshotResponse{State: snap.State, View: snap.View}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// SelectActivityEntry changes the held view's selection.
func (h *Handler) SelectActivityEntry(c echo.Context) error {
	var req SelectEntryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return c.JSON(http.StatusOK, h.activity.SelectEntry(req.Selected))
}

// GetContractEvents returns a contract's events, from its tracker when one
// is running.
func (h *Handler) GetContractEvents(c echo.Context) error {
	contractID := c.Param("contract_id")

	if h.trackers != nil {
		if tr, ok := h.trackers.Lookup(contractID); ok && tr.Ready() {
			resp := ContractEventsResponse{
				ContractID: contractID,
				Events:     nonNil(tr.Events()),
				Tracked:    true,
			}
			if err := tr.LastError(); err != nil {
				resp.LastError = err.Error()
			}
			return c.JSON(http.StatusOK, resp)
		}
	}

	events, err := h.backend.ContractEvents(c.Request().Context(), contractID)
	if err != nil {
		if pentest.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "contract not found"})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, ContractEventsResponse{ContractID: contractID, Events: nonNil(events)})
}

// CreateContract submits a pentest job from a JSON body.
func (h *Handler) CreateContract(c echo.Context) error {
	var sub domain.Submission
	if err := c.Bind(&sub); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	contract, err := h.submit(c.Request().Context(), sub)
	if err != nil {
		status, message := submitStatus(err)
		return c.JSON(status, map[string]string{"error": message})
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"contract": contract})
}

func nonNil(events []domain.Event) []domain.Event {
	if events == nil {
		return []domain.Event{}
	}
	return events
}
