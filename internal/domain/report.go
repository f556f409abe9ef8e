package domain

import (
	"encoding/json"
	"time"
)

// ReportSummary is one row of the completed-reports listing.
type ReportSummary struct {
	ContractID   string    `json:"contract_id"`
	ContractName string    `json:"contract_name"`
	CreatedAt    time.Time `json:"created_at"`
	RawCreatedAt string    `json:"raw_created_at,omitempty"`
}

// UnmarshalJSON tolerates every timestamp encoding ParseTimestamp knows.
func (r *ReportSummary) UnmarshalJSON(data []byte) error {
	var w struct {
		ContractID   string          `json:"contract_id"`
		ContractName string          `json:"contract_name"`
		CreatedAt    json.RawMessage `json:"created_at"`
		RawCreatedAt string          `json:"raw_created_at"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = ReportSummary{ContractID: w.ContractID, ContractName: w.ContractName}
	if hasValue(w.CreatedAt) {
		r.CreatedAt, r.RawCreatedAt = parseRawTimestamp(w.CreatedAt)
	}
	if r.CreatedAt.IsZero() && r.RawCreatedAt == "" {
		r.RawCreatedAt = w.RawCreatedAt
	}
	return nil
}

// Date renders the report's creation date.
func (r ReportSummary) Date() string {
	if r.CreatedAt.IsZero() {
		return r.RawCreatedAt
	}
	return r.CreatedAt.Format("01/02/2006")
}

// Clock renders the report's creation time of day.
func (r ReportSummary) Clock() string {
	if r.CreatedAt.IsZero() {
		return ""
	}
	return r.CreatedAt.Format("15:04:05")
}

// Report is a markdown vulnerability report for one contract.
type Report struct {
	ContractName string `json:"contract_name"`
	Results      string `json:"results"`
}
