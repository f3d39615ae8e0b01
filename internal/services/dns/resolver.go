// Package dns resolves domain policy targets against the configured
// upstream DNS servers.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/rulecheck"
)

// Exchanger sends a single DNS query. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Resolver looks up the A and AAAA records of a domain and returns the
// routable addresses it currently maps to.
type Resolver struct {
	udp     Exchanger
	tcp     Exchanger
	servers []string
	// Sinkhole answers, treated like reserved addresses.
	blocking map[netip.Addr]struct{}
	logger   *logging.Logger
}

// NewResolver builds a resolver from the dns block of the config.
func NewResolver(cfg *config.DNS, logger *logging.Logger) (*Resolver, error) {
	if cfg == nil || len(cfg.Servers) == 0 {
		return nil, errors.New("no DNS servers configured")
	}
	if logger == nil {
		logger = logging.WithComponent("dns")
	}

	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	blocking := make(map[netip.Addr]struct{}, len(cfg.BlockingIPs))
	for _, s := range cfg.BlockingIPs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid blocking ip %q: %w", s, err)
		}
		blocking[addr.Unmap()] = struct{}{}
	}

	return &Resolver{
		udp:      &dns.Client{Net: "udp", Timeout: timeout},
		tcp:      &dns.Client{Net: "tcp", Timeout: timeout},
		servers:  append([]string(nil), cfg.Servers...),
		blocking: blocking,
		logger:   logger,
	}, nil
}

// ResolveDomainTargets returns the IPv4 and IPv6 addresses of domain.
//
// Only the name itself is resolved, so opts.ExactMatch makes no difference.
// Internationalized names are queried in their ASCII form.
// A domain that does not exist maps to no addresses. An error is returned
// only when neither record type could be looked up.
func (r *Resolver) ResolveDomainTargets(ctx context.Context, domain string, opts rulecheck.ResolveOptions) ([]string, error) {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return nil, fmt.Errorf("invalid domain name %q: %w", domain, err)
	}
	name := dns.Fqdn(ascii)
	if _, ok := dns.IsDomainName(name); !ok {
		return nil, fmt.Errorf("invalid domain name %q", domain)
	}

	var result []string
	var errs []error
	seen := make(map[netip.Addr]struct{})

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.lookup(ctx, name, qtype)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", dns.TypeToString[qtype], domain, err))
			continue
		}
		for _, addr := range addrs {
			if _, dup := seen[addr]; dup || r.isReserved(addr) {
				continue
			}
			seen[addr] = struct{}{}
			result = append(result, addr.String())
		}
	}

	if len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		r.logger.Debug("partial domain lookup", "domain", domain, "error", err)
	}
	return result, nil
}

// lookup asks each server in turn until one gives a usable answer.
func (r *Resolver) lookup(ctx context.Context, name string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, _, err := r.udp.ExchangeContext(ctx, m, server)
		if err == nil && resp != nil && resp.Truncated {
			resp, _, err = r.tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", server, err)
			continue
		}
		if resp == nil {
			lastErr = fmt.Errorf("%s: empty response", server)
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return answerAddrs(resp, qtype), nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode])
		}
	}
	return nil, lastErr
}

// answerAddrs collects the addresses of qtype in the answer section. CNAME
// chains are flattened by the upstream, so owner names are not followed.
func answerAddrs(resp *dns.Msg, qtype uint16) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		var ip []byte
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = v.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = v.AAAA
			}
		}
		if ip == nil {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			if qtype == dns.TypeA {
				addr = addr.Unmap()
			}
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

func (r *Resolver) isReserved(addr netip.Addr) bool {
	if _, ok := r.blocking[addr.Unmap()]; ok {
		return true
	}
	return addr.IsUnspecified() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsMulticast()
}
