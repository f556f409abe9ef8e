// Package policy evaluates pentest job submissions against a Rego policy.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/thaveesi/blackRabbit/internal/domain"
)

// ErrUnexpectedResult is returned when the policy does not produce a
// decision object.
var ErrUnexpectedResult = errors.New("policy returned no usable decision")

// Decision is the outcome of evaluating a submission.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// module must define data.submission.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.submission.decision"),
		rego.Module("submission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy from path, or the built-in policy when
// path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks a submission. A policy that yields anything other than a
// decision object is treated as an error, never as an approval.
func (e *Engine) Evaluate(ctx context.Context, sub domain.Submission) (Decision, error) {
	input := map[string]interface{}{
		"name":    sub.Name,
		"address": sub.Address,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, ErrUnexpectedResult
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, ErrUnexpectedResult
	}
	allow, ok := obj["allow"].(bool)
	if !ok {
		return Decision{}, ErrUnexpectedResult
	}
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// DefaultPolicy is the built-in submission policy.
const DefaultPolicy = `
package submission

import rego.v1

default decision := {"allow": true, "reason": ""}

decision := {"allow": false, "reason": concat("; ", sort(deny))} if count(deny) > 0

deny contains "name is required" if {
	trim_space(object.get(input, "name", "")) == ""
}

deny contains "name must be at most 128 characters" if {
	count(object.get(input, "name", "")) > 128
}

deny contains "address must be 0x followed by 40 hex digits" if {
	not regex.match("^0x[0-9a-fA-F]{40}$", object.get(input, "address", ""))
}
`
