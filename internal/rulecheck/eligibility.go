package rulecheck

import (
	"net/netip"
	"strings"
	"time"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/policy"
)

// Filter decides whether a policy is enforced through the shared membership
// sets and can therefore be checked.
type Filter struct {
	Schedule ScheduleEvaluator
	Clock    clock.Clock

	// Block policies against the appliance's own domains or addresses are
	// never installed and must not be reported as drift.
	SelfDomains   []string
	SelfAddresses []string
}

// IsEligible reports whether p should be checked. Checks run cheapest first;
// the schedule evaluator is consulted only once the policy has passed every
// attribute check before it.
func (f *Filter) IsEligible(p *policy.Policy) bool {
	switch p.Type {
	case policy.TypeIP, policy.TypeNet, policy.TypeDomain, policy.TypeDNS:
	default:
		return false
	}

	action := p.EffectiveAction()
	if action != policy.ActionAllow && action != policy.ActionBlock {
		return false
	}
	if p.Disabled || p.DNSOnly {
		return false
	}
	if p.TTLSeconds != nil {
		return false
	}

	if p.Expire > 0 {
		now := f.now()
		if p.WillExpireSoon(now) || p.IsExpired(now) {
			return false
		}
	}

	if p.CronTime != "" {
		if f.Schedule == nil || f.Schedule.ShouldPolicyBeRunning(p) <= 0 {
			return false
		}
	}

	if len(p.Scope) > 0 || len(p.Tags) > 0 || len(p.GUIDs) > 0 {
		return false
	}
	if p.ParentRuleGroupID != "" {
		return false
	}
	if p.HasPorts() {
		return false
	}
	if p.EffectiveSeq() != policy.SeqRegular {
		return false
	}

	return !(action == policy.ActionBlock && f.isSelf(p.Target))
}

func (f *Filter) now() time.Time {
	if f.Clock == nil {
		return clock.Now()
	}
	return f.Clock.Now()
}

func (f *Filter) isSelf(target string) bool {
	target = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(target)), ".")
	if target == "" {
		return false
	}

	for _, d := range f.SelfDomains {
		d = strings.TrimSuffix(strings.ToLower(d), ".")
		if d != "" && (target == d || strings.HasSuffix(target, "."+d)) {
			return true
		}
	}

	if len(f.SelfAddresses) == 0 {
		return false
	}
	var prefix netip.Prefix
	if addr, err := netip.ParseAddr(target); err == nil {
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	} else if p, err := netip.ParsePrefix(target); err == nil {
		prefix = p.Masked()
	} else {
		return false
	}
	for _, s := range f.SelfAddresses {
		if addr, err := netip.ParseAddr(s); err == nil && prefix.Contains(addr) {
			return true
		}
	}
	return false
}
