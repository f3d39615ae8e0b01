package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/rulecheck"
)

// BucketDomainMappings holds the addresses the enforcement layer wrote into
// the sets for each domain, keyed by the normalized domain name.
const BucketDomainMappings = "domain_mappings"

// MappingStore resolves domains to the addresses recorded for them instead
// of querying DNS.
type MappingStore struct {
	store  Store
	logger *logging.Logger
}

var _ rulecheck.DomainResolver = (*MappingStore)(nil)

// NewMappingStore wraps store.
func NewMappingStore(store Store, logger *logging.Logger) *MappingStore {
	if logger == nil {
		logger = logging.WithComponent("state")
	}
	return &MappingStore{store: store, logger: logger}
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// Record replaces the addresses mapped to domain.
func (m *MappingStore) Record(domain string, addrs []string) error {
	name := normalizeDomain(domain)
	if name == "" {
		return errors.New("domain is required")
	}
	for _, a := range addrs {
		if _, err := netip.ParseAddr(a); err != nil {
			return fmt.Errorf("invalid address for %s: %w", name, err)
		}
	}
	return m.store.SetJSON(BucketDomainMappings, name, addrs)
}

// Forget removes the mapping of domain.
func (m *MappingStore) Forget(domain string) error {
	return m.store.Delete(BucketDomainMappings, normalizeDomain(domain))
}

// ResolveDomainTargets returns the addresses recorded for domain. Unless
// opts.ExactMatch is set, addresses recorded for its subdomains are included
// too. A domain without a record maps to no addresses.
func (m *MappingStore) ResolveDomainTargets(ctx context.Context, domain string, opts rulecheck.ResolveOptions) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := normalizeDomain(domain)

	raw, err := m.store.List(BucketDomainMappings)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain mappings: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k == name || (!opts.ExactMatch && strings.HasSuffix(k, "."+name)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var result []string
	seen := make(map[string]struct{})
	for _, k := range keys {
		var addrs []string
		if err := json.Unmarshal(raw[k], &addrs); err != nil {
			m.logger.Warn("skipping undecodable domain mapping", "domain", k, "error", err)
			continue
		}
		for _, a := range addrs {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			result = append(result, a)
		}
	}
	return result, nil
}

// List returns every recorded mapping.
func (m *MappingStore) List() (map[string][]string, error) {
	raw, err := m.store.List(BucketDomainMappings)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		var addrs []string
		if err := json.Unmarshal(v, &addrs); err != nil {
			continue
		}
		out[k] = addrs
	}
	return out, nil
}
