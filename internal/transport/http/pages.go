package http

import (
	"html/template"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/aggregator"
	"github.com/thaveesi/blackRabbit/internal/domain"
)

type basePage struct {
	Title           string
	WalletProjectID string
}

type dashboardPage struct {
	basePage
	View    aggregator.View
	Current *domain.AggregationEntry
}

type errorPage struct {
	basePage
	Message string
}

type contractsPage struct {
	basePage
	Submission domain.Submission
	Error      string
}

type contractPage struct {
	basePage
	Contract domain.ContractSummary
	Groups   aggregator.Groups
}

type reportsPage struct {
	basePage
	Reports []domain.ReportSummary
}

type reportPage struct {
	basePage
	ContractName string
	Body         template.HTML
}

func (h *Handler) base(title string) basePage {
	return basePage{Title: title, WalletProjectID: h.cfg.WalletProjectID}
}

func (h *Handler) renderError(c echo.Context, status int, title, message string) error {
	return c.Render(status, pageError, errorPage{basePage: h.base(title), Message: message})
}

// Dashboard renders the recent activity. ?selected=N picks the entry shown.
func (h *Handler) Dashboard(c echo.Context) error {
	view, err := h.activity.LoadRecentActivity(c.Request().Context(), h.cfg.RecentLimit)
	if err != nil {
		log.Printf("Failed to load recent activity: %v", err)
		return h.renderError(c, http.StatusBadGateway, "Dashboard", "Failed to fetch recent contracts")
	}
	view = selectFromQuery(c, view)

	page := dashboardPage{basePage: h.base("Dashboard"), View: view}
	if current, ok := view.Current(); ok {
		page.Current = &current
	}
	return c.Render(http.StatusOK, pageDashboard, page)
}

func selectFromQuery(c echo.Context, view aggregator.View) aggregator.View {
	raw := c.QueryParam("selected")
	if raw == "" {
		return view
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		index = 0
	}
	return view.Select(index)
}

// NewContractForm renders the submission form.
func (h *Handler) NewContractForm(c echo.Context) error {
	return c.Render(http.StatusOK, pageContracts, contractsPage{basePage: h.base("Test New Contract")})
}

// SubmitContractForm handles the submission form. Failures re-render the
// form with the inputs preserved.
func (h *Handler) SubmitContractForm(c echo.Context) error {
	var sub domain.Submission
	if err := c.Bind(&sub); err != nil {
		return h.renderForm(c, http.StatusBadRequest, sub, "invalid form submission")
	}

	contract, err := h.submit(c.Request().Context(), sub)
	if err != nil {
		status, message := submitStatus(err)
		return h.renderForm(c, status, sub, message)
	}
	return c.Redirect(http.StatusSeeOther, "/contract/"+url.PathEscape(contract.ContractID))
}

func (h *Handler) renderForm(c echo.Context, status int, sub domain.Submission, message string) error {
	return c.Render(status, pageContracts, contractsPage{
		basePage:   h.base("Test New Contract"),
		Submission: sub,
		Error:      message,
	})
}

// ContractDetail renders a contract's source and activity. The page keeps
// itself fresh over the live feed.
func (h *Handler) ContractDetail(c echo.Context) error {
	contractID := c.Param("contract_id")
	ctx := c.Request().Context()

	contract, err := h.backend.GetContract(ctx, contractID)
	if err != nil {
		if pentest.IsNotFound(err) {
			return h.renderError(c, http.StatusNotFound, "Contract", "Contract not found")
		}
		log.Printf("WARN: failed to fetch contract %s: %v", contractID, err)
		contract = &domain.ContractSummary{ContractID: contractID, Name: "Unknown Contract"}
	}

	events, err := h.currentEvents(c, contractID)
	if err != nil {
		log.Printf("Failed to fetch events for contract %s: %v", contractID, err)
		return h.renderError(c, http.StatusBadGateway, "Contract", "Failed to fetch contract events")
	}

	return c.Render(http.StatusOK, pageContract, contractPage{
		basePage: h.base(contract.DisplayName()),
		Contract: *contract,
		Groups:   aggregator.GroupEventsByContract(events),
	})
}

// currentEvents prefers a running tracker's snapshot over a fresh fetch.
func (h *Handler) currentEvents(c echo.Context, contractID string) ([]domain.Event, error) {
	if h.trackers != nil {
		if tr, ok := h.trackers.Lookup(contractID); ok && tr.Ready() {
			return tr.Events(), nil
		}
	}
	return h.backend.ContractEvents(c.Request().Context(), contractID)
}

// Reports renders the completed reports listing.
func (h *Handler) Reports(c echo.Context) error {
	reports, err := h.backend.ListReports(c.Request().Context())
	if err != nil {
		log.Printf("Failed to fetch reports: %v", err)
		return h.renderError(c, http.StatusBadGateway, "Reports", "Failed to fetch reports")
	}
	return c.Render(http.StatusOK, pageReports, reportsPage{basePage: h.base("Reports"), Reports: reports})
}

// Report renders one contract's markdown report.
func (h *Handler) Report(c echo.Context) error {
	contractID := c.Param("contract_id")
	report, err := h.backend.GetReport(c.Request().Context(), contractID)
	if err != nil {
		if pentest.IsNotFound(err) {
			return h.renderError(c, http.StatusNotFound, "Report", "Report not found")
		}
		log.Printf("Failed to fetch report %s: %v", contractID, err)
		return h.renderError(c, http.StatusBadGateway, "Report", "Failed to fetch report")
	}

	body, err := h.markdown.Render(report.Results)
	if err != nil {
		log.Printf("Failed to render report %s: %v", contractID, err)
		return h.renderError(c, http.StatusInternalServerError, "Report", "Failed to render report")
	}

	name := report.ContractName
	if name == "" {
		name = contractID
	}
	return c.Render(http.StatusOK, pageReport, reportPage{
		basePage:     h.base("Report - " + name),
		ContractName: name,
		Body:         body,
	})
}
