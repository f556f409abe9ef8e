// Package domain defines the core domain models for the pentest dashboard.
package domain

import "strings"

// AgentKind identifies which backend actor produced an event.
type AgentKind string

const (
	AgentPlanner   AgentKind = "planner"
	AgentExecutor  AgentKind = "executor"
	AgentReflector AgentKind = "reflector"
	AgentReporter  AgentKind = "reporter"
	AgentUnknown   AgentKind = "unknown"
)

// AgentKinds lists every known agent kind in pipeline order.
var AgentKinds = []AgentKind{AgentPlanner, AgentExecutor, AgentReflector, AgentReporter}

// ParseAgentKind maps a wire label to an AgentKind. Labels are matched
// case-insensitively; anything unrecognised is AgentUnknown.
func ParseAgentKind(label string) AgentKind {
	switch AgentKind(strings.ToLower(strings.TrimSpace(label))) {
	case AgentPlanner:
		return AgentPlanner
	case AgentExecutor:
		return AgentExecutor
	case AgentReflector:
		return AgentReflector
	case AgentReporter:
		return AgentReporter
	default:
		return AgentUnknown
	}
}

// Icon is the presentation token rendered next to an agent name.
type Icon string

// Icon returns the presentation token for the agent kind. Every kind,
// including AgentUnknown, has exactly one icon.
func (k AgentKind) Icon() Icon {
	switch k {
	case AgentPlanner:
		return "🧭"
	case AgentExecutor:
		return "⚙️"
	case AgentReflector:
		return "🪞"
	case AgentReporter:
		return "📝"
	default:
		return "👤"
	}
}

func (k AgentKind) String() string {
	return string(k)
}
