package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration. Defaults must be applied first.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	if c.RuleCheck != nil {
		errs = append(errs, c.RuleCheck.validate()...)
	}
	if c.Logging != nil {
		switch strings.ToLower(c.Logging.Level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level)})
		}
	}
	return errs
}

func (rc *RuleCheck) validate() ValidationErrors {
	var errs ValidationErrors

	if rc.Interval < 1 {
		errs = append(errs, ValidationError{"rule_check.interval", "must be at least 1 minute"})
	}
	if d, err := time.ParseDuration(rc.StartupDelay); err != nil {
		errs = append(errs, ValidationError{"rule_check.startup_delay", err.Error()})
	} else if d < 0 {
		errs = append(errs, ValidationError{"rule_check.startup_delay", "must not be negative"})
	}

	switch rc.Backend {
	case "nftables", "nft", "ipset":
	default:
		errs = append(errs, ValidationError{"rule_check.backend", fmt.Sprintf("unknown backend %q (want nftables, nft or ipset)", rc.Backend)})
	}
	if rc.Table == "" && rc.Backend != "ipset" {
		errs = append(errs, ValidationError{"rule_check.table", "required for nftables backends"})
	}

	switch rc.Resolver {
	case ResolverDNS, ResolverMapping:
	default:
		errs = append(errs, ValidationError{"rule_check.resolver", fmt.Sprintf("unknown resolver %q (want dns or mapping)", rc.Resolver)})
	}
	if len(rc.ReenforceCommand) > 0 && strings.TrimSpace(rc.ReenforceCommand[0]) == "" {
		errs = append(errs, ValidationError{"rule_check.reenforce_command", "program must not be empty"})
	}

	for i, d := range rc.SelfDomains {
		if strings.TrimSpace(d) == "" || strings.ContainsAny(d, " /:") {
			errs = append(errs, ValidationError{fmt.Sprintf("rule_check.self_domains[%d]", i), fmt.Sprintf("invalid domain %q", d)})
		}
	}
	for i, a := range rc.SelfAddresses {
		if _, err := netip.ParseAddr(a); err != nil {
			errs = append(errs, ValidationError{fmt.Sprintf("rule_check.self_addresses[%d]", i), err.Error()})
		}
	}

	if rc.DNS != nil {
		errs = append(errs, rc.DNS.validate()...)
	}
	return errs
}

func (d *DNS) validate() ValidationErrors {
	var errs ValidationErrors

	if len(d.Servers) == 0 {
		errs = append(errs, ValidationError{"rule_check.dns.servers", "at least one server is required"})
	}
	for i, s := range d.Servers {
		host, port, err := net.SplitHostPort(s)
		if err != nil {
			errs = append(errs, ValidationError{fmt.Sprintf("rule_check.dns.servers[%d]", i), err.Error()})
			continue
		}
		if _, err := netip.ParseAddr(host); err != nil || port == "" {
			errs = append(errs, ValidationError{fmt.Sprintf("rule_check.dns.servers[%d]", i), fmt.Sprintf("want ip:port, got %q", s)})
		}
	}
	if t, err := time.ParseDuration(d.Timeout); err != nil {
		errs = append(errs, ValidationError{"rule_check.dns.timeout", err.Error()})
	} else if t <= 0 {
		errs = append(errs, ValidationError{"rule_check.dns.timeout", "must be positive"})
	}
	for i, ip := range d.BlockingIPs {
		if _, err := netip.ParseAddr(ip); err != nil {
			errs = append(errs, ValidationError{fmt.Sprintf("rule_check.dns.blocking_ips[%d]", i), err.Error()})
		}
	}
	return errs
}
