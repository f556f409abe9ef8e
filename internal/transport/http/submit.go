package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/thaveesi/blackRabbit/internal/adapter/pentest"
	"github.com/thaveesi/blackRabbit/internal/domain"
)

// submitError carries the status and user-facing message of a failed
// submission.
type submitError struct {
	status  int
	message string
}

func (e *submitError) Error() string {
	return e.message
}

// submit runs the policy check and, if it passes, creates the job on the
// backend.
func (h *Handler) submit(ctx context.Context, sub domain.Submission) (*domain.ContractSummary, error) {
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Address = strings.TrimSpace(sub.Address)

	if h.policy != nil {
		decision, err := h.policy.Evaluate(ctx, sub)
		if err != nil {
			h.metrics.SubmissionsTotal.WithLabelValues("error").Inc()
			log.Printf("Submission policy evaluation failed: %v", err)
			return nil, &submitError{status: http.StatusInternalServerError, message: "failed to evaluate submission policy"}
		}
		if !decision.Allow {
			h.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			return nil, &submitError{status: http.StatusUnprocessableEntity, message: decision.Reason}
		}
	}

	contract, err := h.backend.CreateContract(ctx, sub)
	if err != nil {
		h.metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		log.Printf("WARN: contract submission failed: %v", err)
		message := "failed to submit contract"
		var apiErr *pentest.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			message = message + ": " + apiErr.Message
		}
		return nil, &submitError{status: http.StatusBadGateway, message: message}
	}

	h.metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
	log.Printf("Contract submitted: contract_id=%s", contract.ContractID)
	return contract, nil
}

func submitStatus(err error) (int, string) {
	var se *submitError
	if errors.As(err, &se) {
		return se.status, se.message
	}
	return http.StatusInternalServerError, err.Error()
}
