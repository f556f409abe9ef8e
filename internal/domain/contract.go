package domain

import "encoding/json"

// ContractSummary is a smart contract under test as reported by the backend.
type ContractSummary struct {
	ContractID string `json:"contract_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	SourceCode string `json:"source_code"`
}

// wireContract covers every field name the backend has used for contracts.
type wireContract struct {
	ContractID   json.RawMessage `json:"contract_id"`
	ID           string          `json:"id"`
	MongoID      json.RawMessage `json:"_id"`
	Name         string          `json:"name"`
	ContractName string          `json:"contract_name"`
	Addr         string          `json:"addr"`
	Address      string          `json:"address"`
	SourceCode   string          `json:"source_code"`
}

// UnmarshalJSON accepts both the listing shape ({contract_id, name, addr})
// and the detail shape ({contract_name, addr}) as well as the canonical one.
func (c *ContractSummary) UnmarshalJSON(data []byte) error {
	var w wireContract
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = ContractSummary{
		ContractID: firstNonEmpty(parseID(w.ContractID), w.ID, parseID(w.MongoID)),
		Name:       firstNonEmpty(w.Name, w.ContractName),
		Address:    firstNonEmpty(w.Addr, w.Address),
		SourceCode: w.SourceCode,
	}
	return nil
}

// DisplayName returns the contract name, or its id when the name is empty.
func (c ContractSummary) DisplayName() string {
	return firstNonEmpty(c.Name, c.ContractID, "Unknown Contract")
}

// Submission is a request to start a new pentest job.
type Submission struct {
	Name    string `json:"name" form:"name"`
	Address string `json:"address" form:"address"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
