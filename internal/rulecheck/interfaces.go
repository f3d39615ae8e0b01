package rulecheck

import (
	"context"

	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/policy"
)

// Switch reports the appliance-wide "disable all rules" flag.
type Switch interface {
	IsGloballyDisabled(ctx context.Context) (bool, error)
}

// LoadOptions controls which policies a PolicySource returns.
type LoadOptions struct {
	IncludeDisabled bool
}

// PolicySource loads the stored policies.
type PolicySource interface {
	LoadActivePolicies(ctx context.Context, opts LoadOptions) ([]*policy.Policy, error)
}

// ScheduleEvaluator evaluates a policy's cron schedule. A positive result
// means the policy should currently be in effect.
type ScheduleEvaluator interface {
	ShouldPolicyBeRunning(p *policy.Policy) int
}

// ResolveOptions are passed through to the domain mapping store.
type ResolveOptions struct {
	// SetID is the IPv4 set the domain's addresses are enforced in.
	SetID      firewall.SetID
	ExactMatch bool
}

// DomainResolver expands a domain target into the addresses it currently
// maps to. Reserved and non-routable addresses must already be removed.
type DomainResolver interface {
	ResolveDomainTargets(ctx context.Context, domain string, opts ResolveOptions) ([]string, error)
}

// ActionReenforce is the only action the checker ever requests.
const ActionReenforce = "reenforce"

// Command asks the enforcement layer to re-apply a policy.
type Command struct {
	Policy *policy.Policy
	Action string
	// Reason is the record that triggered the request; for drift it is the
	// policy itself.
	Reason *policy.Policy
}

// Enforcer accepts re-enforcement commands. Delivery and execution belong to
// the implementation; the checker only logs a rejected command.
type Enforcer interface {
	RequestReEnforcement(ctx context.Context, cmd Command) error
}

// ReadySignal invokes fn once, after every policy has been loaded.
type ReadySignal interface {
	OnSystemReady(fn func())
}
