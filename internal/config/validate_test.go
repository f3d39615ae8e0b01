package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Default(t *testing.T) {
	assert.False(t, Default().Validate().HasErrors())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	rc := cfg.RuleCheck
	rc.Interval = 0
	rc.Backend = "pf"
	rc.Resolver = "hosts"
	rc.ReenforceCommand = []string{" ", "reenforce"}
	rc.SelfAddresses = []string{"203.0.113.7", "grimm.is"}
	rc.SelfDomains = []string{"ok.example", "bad domain"}
	rc.DNS.Servers = []string{"127.0.0.1", "dns.example:53"}
	rc.DNS.Timeout = "0s"
	rc.DNS.BlockingIPs = []string{"0.0.0.0", "sinkhole"}
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.ElementsMatch(t, []string{
		"rule_check.interval",
		"rule_check.backend",
		"rule_check.resolver",
		"rule_check.reenforce_command",
		"rule_check.self_domains[1]",
		"rule_check.self_addresses[1]",
		"rule_check.dns.servers[0]",
		"rule_check.dns.servers[1]",
		"rule_check.dns.timeout",
		"rule_check.dns.blocking_ips[1]",
		"logging.level",
	}, fields)
	assert.Contains(t, errs.Error(), "; ")
}

func TestValidate_IPSetNeedsNoTable(t *testing.T) {
	cfg := Default()
	cfg.RuleCheck.Backend = "ipset"
	cfg.RuleCheck.Table = ""
	assert.False(t, cfg.Validate().HasErrors())

	cfg.RuleCheck.Backend = "nft"
	assert.True(t, cfg.Validate().HasErrors())
}
