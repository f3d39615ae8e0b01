package config

import (
	"time"
)

// Defaults.
const (
	DefaultIntervalMinutes = 10
	DefaultStartupDelay    = "20m"
	DefaultBackend         = "nftables"
	DefaultTable           = "filter"
	DefaultDNSTimeout      = "2s"
	DefaultLogLevel        = "info"
	DefaultResolver        = ResolverDNS
)

// Domain policy resolvers.
const (
	// ResolverDNS queries the configured upstreams on every pass.
	ResolverDNS = "dns"
	// ResolverMapping reads the addresses the enforcement layer recorded
	// for each domain from the policy database.
	ResolverMapping = "mapping"
)

// Config is the top-level configuration file.
type Config struct {
	RuleCheck *RuleCheck `hcl:"rule_check,block" json:"rule_check,omitempty"`
	Logging   *Logging   `hcl:"logging,block" json:"logging,omitempty"`
}

// RuleCheck configures the reconciliation loop.
type RuleCheck struct {
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty"`

	// Interval between passes, in minutes.
	Interval     int    `hcl:"interval,optional" json:"interval,omitempty"`
	StartupDelay string `hcl:"startup_delay,optional" json:"startup_delay,omitempty"`

	// Backend is one of "nftables" (netlink), "nft" or "ipset".
	Backend string `hcl:"backend,optional" json:"backend,omitempty"`
	Table   string `hcl:"table,optional" json:"table,omitempty"`

	// Block rules against these are never enforced and never checked.
	SelfDomains   []string `hcl:"self_domains,optional" json:"self_domains,omitempty"`
	SelfAddresses []string `hcl:"self_addresses,optional" json:"self_addresses,omitempty"`

	// Resolver is "dns" or "mapping".
	Resolver string `hcl:"resolver,optional" json:"resolver,omitempty"`

	// ReenforceCommand is run with the policy id appended for every drifted
	// policy. Without it re-enforcement requests are only logged.
	ReenforceCommand []string `hcl:"reenforce_command,optional" json:"reenforce_command,omitempty"`

	DNS *DNS `hcl:"dns,block" json:"dns,omitempty"`
}

// DNS configures the resolver used for domain policies.
type DNS struct {
	Servers []string `hcl:"servers,optional" json:"servers,omitempty"`
	Timeout string   `hcl:"timeout,optional" json:"timeout,omitempty"`
	// Sinkhole answers that mean "blocked", not a real mapping.
	BlockingIPs []string `hcl:"blocking_ips,optional" json:"blocking_ips,omitempty"`
}

// Logging configures the process logger.
type Logging struct {
	Level string `hcl:"level,optional" json:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in every unset value.
func (c *Config) ApplyDefaults() {
	if c.RuleCheck == nil {
		c.RuleCheck = &RuleCheck{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	rc := c.RuleCheck
	if rc.Enabled == nil {
		enabled := true
		rc.Enabled = &enabled
	}
	if rc.Interval == 0 {
		rc.Interval = DefaultIntervalMinutes
	}
	if rc.StartupDelay == "" {
		rc.StartupDelay = DefaultStartupDelay
	}
	if rc.Backend == "" {
		rc.Backend = DefaultBackend
	}
	if rc.Table == "" {
		rc.Table = DefaultTable
	}
	if rc.Resolver == "" {
		rc.Resolver = DefaultResolver
	}
	if rc.DNS == nil {
		rc.DNS = &DNS{}
	}
	if len(rc.DNS.Servers) == 0 {
		rc.DNS.Servers = []string{"127.0.0.1:53"}
	}
	if rc.DNS.Timeout == "" {
		rc.DNS.Timeout = DefaultDNSTimeout
	}
	if rc.DNS.BlockingIPs == nil {
		rc.DNS.BlockingIPs = []string{"0.0.0.0", "::"}
	}
}

// IsEnabled reports whether the checker should run.
func (rc *RuleCheck) IsEnabled() bool {
	return rc.Enabled == nil || *rc.Enabled
}

// IntervalDuration returns the pass interval.
func (rc *RuleCheck) IntervalDuration() time.Duration {
	return time.Duration(rc.Interval) * time.Minute
}

// StartupDelayDuration returns the delay between policy initialization and
// the first armed timer. Call Validate first; unparseable values yield zero.
func (rc *RuleCheck) StartupDelayDuration() time.Duration {
	d, _ := time.ParseDuration(rc.StartupDelay)
	return d
}

// TimeoutDuration returns the per-query timeout.
func (d *DNS) TimeoutDuration() time.Duration {
	t, _ := time.ParseDuration(d.Timeout)
	return t
}
