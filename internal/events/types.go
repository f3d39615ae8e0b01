// Package events provides the in-process pub/sub bus that connects the rule
// checker to the rest of the appliance. Readiness signals come in and
// re-enforcement commands go out as events.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Published by the policy manager once every stored policy has been
	// loaded and enforced for the first time.
	EventPoliciesInitialized EventType = "policy.all_initialized"

	// Published by the rule checker for a policy whose kernel state drifted.
	EventPolicyReenforce EventType = "policy.reenforce"

	// Published by the rule checker at the end of every pass.
	EventRuleCheckPass EventType = "rulecheck.pass"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // Component that emitted: "policy", "rulecheck", etc.
	Data      interface{} `json:"data"`   // Type-specific payload
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// ReenforceData is the payload for EventPolicyReenforce. Policy and Reason
// carry the policy record; they are typed as interface{} so this package
// stays free of domain imports.
type ReenforceData struct {
	PolicyID string      `json:"pid"`
	Action   string      `json:"action"`
	Policy   interface{} `json:"policy"`
	Reason   interface{} `json:"reason,omitempty"`
}

// RuleCheckPassData is the payload for EventRuleCheckPass.
type RuleCheckPassData struct {
	PassID   string        `json:"pass_id"`
	Aborted  bool          `json:"aborted,omitempty"`
	Loaded   int           `json:"loaded"`
	Eligible int           `json:"eligible"`
	Drifted  int           `json:"drifted"`
	Failed   int           `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}
