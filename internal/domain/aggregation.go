package domain

// AggregationEntry pairs a contract with its event timeline. Entries are
// rebuilt on every refresh and never persisted.
type AggregationEntry struct {
	Contract ContractSummary `json:"contract_info"`
	Events   []Event         `json:"events"`
}
