// Package policy defines the allow/block rule records consumed by the
// enforcement consistency checker. Records are owned and persisted by the
// policy manager; this package only describes their shape and the derived
// predicates the checker needs.
package policy

import (
	"strings"
	"time"
)

// Type is the kind of target a policy matches on.
type Type string

const (
	TypeIP     Type = "ip"
	TypeNet    Type = "net"
	TypeDomain Type = "domain"
	TypeDNS    Type = "dns"
)

// Action is what the policy does with matching traffic.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Direction restricts a policy to one traffic direction.
// The empty direction means both.
type Direction string

const (
	DirectionAny      Direction = ""
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Seq is the rule evaluation class. Only regular rules live in the shared
// membership sets; the others get dedicated chains.
type Seq int

const (
	SeqHigh    Seq = 1
	SeqRegular Seq = 2
	SeqLow     Seq = 3
)

// ExpireSoonWindow is how close to its expiry a policy may be before the
// checker stops looking at it.
const ExpireSoonWindow = 60 * time.Second

// Policy is a single allow/block rule.
type Policy struct {
	ID        string    `json:"pid"`
	Type      Type      `json:"type"`
	Action    Action    `json:"action,omitempty"`
	Target    string    `json:"target"`
	Direction Direction `json:"direction,omitempty"`

	// Targeting. Any non-empty value moves the rule to a scoped chain.
	Scope             []string `json:"scope,omitempty"`
	Tags              []string `json:"tag,omitempty"`
	GUIDs             []string `json:"guids,omitempty"`
	ParentRuleGroupID string   `json:"parentRgId,omitempty"`

	Disabled   bool   `json:"disabled,omitempty"`
	DNSOnly    bool   `json:"dnsmasq_only,omitempty"`
	TTLSeconds *int   `json:"ipttl,omitempty"`
	Seq        Seq    `json:"seq,omitempty"`
	LocalPort  string `json:"localPort,omitempty"`
	RemotePort string `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol,omitempty"`

	// Expire is a unix timestamp in seconds. When Duration is also set the
	// policy expires Duration seconds after Expire (activation time).
	Expire   int64  `json:"expire,omitempty"`
	Duration int64  `json:"duration,omitempty"`
	CronTime string `json:"cronTime,omitempty"`

	SecurityBlock    bool `json:"securityBlock,omitempty"`
	DomainExactMatch bool `json:"domainExactMatch,omitempty"`
}

// EffectiveAction returns the action with the block default applied.
func (p *Policy) EffectiveAction() Action {
	if p.Action == "" {
		return ActionBlock
	}
	return p.Action
}

// EffectiveSeq returns the sequence class, defaulting to regular.
func (p *Policy) EffectiveSeq() Seq {
	if p.Seq == 0 {
		return SeqRegular
	}
	return p.Seq
}

// IsSecurityBlock reports whether the policy belongs to the security block
// tier, which is enforced through its own set namespace.
func (p *Policy) IsSecurityBlock() bool {
	return p.SecurityBlock && p.EffectiveAction() == ActionBlock
}

// ExpiresAt returns the expiry instant, or the zero time if the policy
// never expires.
func (p *Policy) ExpiresAt() time.Time {
	if p.Expire <= 0 {
		return time.Time{}
	}
	return time.Unix(p.Expire+p.Duration, 0)
}

// IsExpired reports whether the policy expired at or before now.
func (p *Policy) IsExpired(now time.Time) bool {
	at := p.ExpiresAt()
	return !at.IsZero() && !now.Before(at)
}

// WillExpireSoon reports whether the policy expires within ExpireSoonWindow.
func (p *Policy) WillExpireSoon(now time.Time) bool {
	at := p.ExpiresAt()
	return !at.IsZero() && at.Sub(now) < ExpireSoonWindow
}

// HasPorts reports whether the policy is restricted to a local or remote port.
func (p *Policy) HasPorts() bool {
	return strings.TrimSpace(p.LocalPort) != "" || strings.TrimSpace(p.RemotePort) != ""
}

// IsScoped reports whether the policy targets a device, network, group,
// VPN profile or rule group instead of the whole box.
func (p *Policy) IsScoped() bool {
	return len(p.Scope) > 0 || len(p.Tags) > 0 || len(p.GUIDs) > 0 || p.ParentRuleGroupID != ""
}
