package rulecheck

import (
	"context"

	"grimm.is/rulecheck/internal/firewall"
)

// Checker compares targets against set snapshots of a single pass.
type Checker struct {
	cache *firewall.SetCache
}

// NewChecker returns a checker reading through cache.
func NewChecker(cache *firewall.SetCache) *Checker {
	return &Checker{cache: cache}
}

// AllPresent reports whether every target appears verbatim in the set and
// returns the ones that do not. No targets or a zero id is trivially true,
// and so is a set whose listing failed.
func (c *Checker) AllPresent(ctx context.Context, targets []string, id firewall.SetID) (bool, []string, error) {
	if len(targets) == 0 || id.IsZero() {
		return true, nil, nil
	}

	snap, err := c.cache.Read(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if snap.Unavailable {
		return true, nil, nil
	}

	var missing []string
	for _, t := range targets {
		if !snap.Contains(t) {
			missing = append(missing, t)
		}
	}
	return len(missing) == 0, missing, nil
}
