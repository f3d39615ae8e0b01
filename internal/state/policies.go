package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/policy"
	"grimm.is/rulecheck/internal/rulecheck"
)

// Bucket names.
const (
	BucketPolicies = "policies"
	BucketSettings = "settings"
)

const keyDisableAll = "disable_all"

// PolicyStore keeps policy records and the global disable flag. It serves
// as both the rulecheck.PolicySource and the rulecheck.Switch.
type PolicyStore struct {
	store  Store
	logger *logging.Logger
}

var (
	_ rulecheck.PolicySource = (*PolicyStore)(nil)
	_ rulecheck.Switch       = (*PolicyStore)(nil)
)

// NewPolicyStore wraps store.
func NewPolicyStore(store Store, logger *logging.Logger) *PolicyStore {
	if logger == nil {
		logger = logging.WithComponent("state")
	}
	return &PolicyStore{store: store, logger: logger}
}

// Put stores p under its ID.
func (ps *PolicyStore) Put(p *policy.Policy) error {
	if p == nil || p.ID == "" {
		return errors.New("policy id is required")
	}
	return ps.store.SetJSON(BucketPolicies, p.ID, p)
}

// Remove deletes the policy with the given ID.
func (ps *PolicyStore) Remove(id string) error {
	return ps.store.Delete(BucketPolicies, id)
}

// LoadActivePolicies returns the stored policies ordered by ID. Disabled
// policies are left out unless opts.IncludeDisabled is set. Records that do
// not decode are logged and skipped.
func (ps *PolicyStore) LoadActivePolicies(ctx context.Context, opts rulecheck.LoadOptions) ([]*policy.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := ps.store.List(BucketPolicies)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]*policy.Policy, 0, len(keys))
	for _, k := range keys {
		var p policy.Policy
		if err := json.Unmarshal(raw[k], &p); err != nil {
			ps.logger.Warn("skipping undecodable policy record", "key", k, "error", err)
			continue
		}
		if p.Disabled && !opts.IncludeDisabled {
			continue
		}
		result = append(result, &p)
	}
	return result, nil
}

// IsGloballyDisabled reports the appliance-wide disable flag. An unset flag
// reads as enabled.
func (ps *PolicyStore) IsGloballyDisabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var disabled bool
	err := ps.store.GetJSON(BucketSettings, keyDisableAll, &disabled)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return disabled, nil
}

// SetGloballyDisabled sets the appliance-wide disable flag.
func (ps *PolicyStore) SetGloballyDisabled(disabled bool) error {
	return ps.store.SetJSON(BucketSettings, keyDisableAll, disabled)
}
