package devbackend

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Handler serves the pentest backend API from a SQLiteStore.
type Handler struct {
	store *SQLiteStore
	now   func() time.Time
}

// NewHandler creates a new handler.
func NewHandler(store *SQLiteStore) *Handler {
	return &Handler{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// NewServer creates and configures the dev backend HTTP server.
func NewServer(store *SQLiteStore) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	NewHandler(store).RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the backend routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/contracts/recent", h.RecentContracts)
	e.POST("/contracts", h.CreateContract)
	e.GET("/contracts/:contract_id", h.GetContract)
	e.GET("/contracts/:contract_id/events", h.ListEvents)
	e.POST("/contracts/:contract_id/events", h.CreateEvent)

	e.GET("/reports", h.ListReports)
	e.GET("/report/:contract_id", h.GetReport)
	e.POST("/reports/append/:contract_id", h.AppendReport)

	e.GET("/health", h.Health)
}

// ContractResponse is the listing and creation shape of a contract.
type ContractResponse struct {
	ContractID string `json:"contract_id"`
	Name       string `json:"name"`
	Addr       string `json:"addr"`
	SourceCode string `json:"source_code"`
}

// ContractInfoResponse is the detail shape of a contract.
type ContractInfoResponse struct {
	ContractID   string `json:"contract_id"`
	ContractName string `json:"contract_name"`
	Addr         string `json:"addr"`
	SourceCode   string `json:"source_code"`
	CreatedAt    string `json:"created_at"`
}

// EventResponse is the stored shape of an event.
type EventResponse struct {
	ID              string `json:"_id"`
	SmartContractID string `json:"smart_contract_id"`
	AgentID         string `json:"agent_id"`
	Action          string `json:"action"`
	CreatedAt       string `json:"created_at"`
}

// ReportSummaryResponse is one row of the reports listing.
type ReportSummaryResponse struct {
	ContractID   string `json:"contract_id"`
	ContractName string `json:"contract_name"`
	CreatedAt    string `json:"created_at"`
}

// CreateContractRequest is the body of POST /contracts.
type CreateContractRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	SourceCode string `json:"source_code"`
}

// CreateEventRequest is the body of POST /contracts/:contract_id/events.
type CreateEventRequest struct {
	Agent  string `json:"agent"`
	Action string `json:"action"`
}

// AppendReportRequest is the body of POST /reports/append/:contract_id.
type AppendReportRequest struct {
	Results string `json:"results"`
}

func toContractResponse(c Contract) ContractResponse {
	return ContractResponse{ContractID: c.ContractID, Name: c.Name, Addr: c.Address, SourceCode: c.SourceCode}
}

func toEventResponse(e Event) EventResponse {
	return EventResponse{
		ID:              e.EventID,
		SmartContractID: e.ContractID,
		AgentID:         e.AgentID,
		Action:          e.Action,
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

// RecentContracts lists the newest contracts.
func (h *Handler) RecentContracts(c echo.Context) error {
	contracts, err := h.store.ListRecentContracts(c.Request().Context(), RecentLimit)
	if err != nil {
		log.Printf("Failed to list contracts: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to list contracts")
	}
	resp := make([]ContractResponse, 0, len(contracts))
	for _, contract := range contracts {
		resp = append(resp, toContractResponse(contract))
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateContract registers a new contract for testing.
func (h *Handler) CreateContract(c echo.Context) error {
	var req CreateContractRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Address = strings.TrimSpace(req.Address)
	if req.Name == "" || req.Address == "" {
		return errorJSON(c, http.StatusBadRequest, "Invalid request. Name and address are required.")
	}

	contract := &Contract{
		ContractID: newID("contract"),
		Name:       req.Name,
		Address:    req.Address,
		SourceCode: req.SourceCode,
		CreatedAt:  h.now(),
	}
	if err := h.store.CreateContract(c.Request().Context(), contract); err != nil {
		log.Printf("Failed to create contract: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to create contract")
	}

	log.Printf("Contract created: contract_id=%s", contract.ContractID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":  "Contract created successfully",
		"contract": toContractResponse(*contract),
	})
}

// GetContract returns a contract's details.
func (h *Handler) GetContract(c echo.Context) error {
	contractID := c.Param("contract_id")
	contract, err := h.store.GetContract(c.Request().Context(), contractID)
	if err != nil {
		log.Printf("Failed to get contract %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get contract")
	}
	if contract == nil {
		return errorJSON(c, http.StatusNotFound, "Contract not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Contract details for " + contractID,
		"contract_info": ContractInfoResponse{
			ContractID:   contract.ContractID,
			ContractName: contract.Name,
			Addr:         contract.Address,
			SourceCode:   contract.SourceCode,
			CreatedAt:    contract.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// ListEvents returns a contract's event timeline.
func (h *Handler) ListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	contractID := c.Param("contract_id")

	contract, err := h.store.GetContract(ctx, contractID)
	if err != nil {
		log.Printf("Failed to get contract %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get contract")
	}
	if contract == nil {
		return errorJSON(c, http.StatusNotFound, "Contract not found")
	}

	events, err := h.store.ListEvents(ctx, contractID)
	if err != nil {
		log.Printf("Failed to list events for %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to list events")
	}
	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": resp})
}

// CreateEvent records an agent action against a contract.
func (h *Handler) CreateEvent(c echo.Context) error {
	ctx := c.Request().Context()
	contractID := c.Param("contract_id")

	var req CreateEventRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.Agent = strings.TrimSpace(req.Agent)
	if req.Agent == "" || strings.TrimSpace(req.Action) == "" {
		return errorJSON(c, http.StatusBadRequest, "agent and action are required")
	}

	contract, err := h.store.GetContract(ctx, contractID)
	if err != nil {
		log.Printf("Failed to get contract %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get contract")
	}
	if contract == nil {
		return errorJSON(c, http.StatusNotFound, "Contract not found")
	}

	event := &Event{
		EventID:    newID("evt"),
		ContractID: contractID,
		AgentID:    req.Agent,
		Action:     req.Action,
		CreatedAt:  h.now(),
	}
	if err := h.store.CreateEvent(ctx, event); err != nil {
		log.Printf("Failed to create event for %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to create event")
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"event": toEventResponse(*event)})
}

// ListReports lists completed reports.
func (h *Handler) ListReports(c echo.Context) error {
	reports, err := h.store.ListReports(c.Request().Context())
	if err != nil {
		log.Printf("Failed to list reports: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to list reports")
	}
	resp := make([]ReportSummaryResponse, 0, len(reports))
	for _, r := range reports {
		resp = append(resp, ReportSummaryResponse{
			ContractID:   r.ContractID,
			ContractName: r.ContractName,
			CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// GetReport returns a contract's markdown report.
func (h *Handler) GetReport(c echo.Context) error {
	contractID := c.Param("contract_id")
	report, err := h.store.GetReport(c.Request().Context(), contractID)
	if err != nil {
		log.Printf("Failed to get report %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get report")
	}
	if report == nil {
		return errorJSON(c, http.StatusNotFound, "Report not found")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"contract_name": report.ContractName,
		"results":       report.Results,
	})
}

// AppendReport appends markdown results to a contract's report.
func (h *Handler) AppendReport(c echo.Context) error {
	ctx := c.Request().Context()
	contractID := c.Param("contract_id")

	var req AppendReportRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Results) == "" {
		return errorJSON(c, http.StatusBadRequest, "results are required")
	}

	contract, err := h.store.GetContract(ctx, contractID)
	if err != nil {
		log.Printf("Failed to get contract %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to get contract")
	}
	if contract == nil {
		return errorJSON(c, http.StatusNotFound, "Contract not found")
	}

	if err := h.store.AppendReport(ctx, contractID, req.Results, h.now()); err != nil {
		log.Printf("Failed to append report for %s: %v", contractID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to append report")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Results appended successfully"})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
