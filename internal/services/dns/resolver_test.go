package dns

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/rulecheck"
)

type testZone struct {
	a         map[string][]string
	aaaa      map[string][]string
	truncate  map[string]bool
	servfail  map[string]bool
	tcpServed atomic.Int32
}

func (z *testZone) handler(tcp bool) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]

		if tcp {
			z.tcpServed.Add(1)
		}
		if z.servfail[q.Name] {
			m.Rcode = dns.RcodeServerFailure
			_ = w.WriteMsg(m)
			return
		}
		if z.truncate[q.Name] && !tcp {
			m.Truncated = true
			_ = w.WriteMsg(m)
			return
		}

		var records map[string][]string
		switch q.Qtype {
		case dns.TypeA:
			records = z.a
		case dns.TypeAAAA:
			records = z.aaaa
		}
		values, known := records[q.Name]
		if !known && z.a[q.Name] == nil && z.aaaa[q.Name] == nil {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		for _, v := range values {
			hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
			if q.Qtype == dns.TypeA {
				m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP(v)})
			} else {
				m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP(v)})
			}
		}
		_ = w.WriteMsg(m)
	}
}

// startServer serves zone over UDP and TCP on the same loopback port.
func startServer(t *testing.T, zone *testZone) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	ln, err := net.Listen("tcp", pc.LocalAddr().String())
	require.NoError(t, err)

	for _, srv := range []*dns.Server{
		{PacketConn: pc, Net: "udp", Handler: zone.handler(false)},
		{Listener: ln, Net: "tcp", Handler: zone.handler(true)},
	} {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go func(s *dns.Server) { _ = s.ActivateAndServe() }(srv)
		<-started
		t.Cleanup(func() { _ = srv.Shutdown() })
	}
	return pc.LocalAddr().String()
}

func newTestResolver(t *testing.T, servers ...string) *Resolver {
	t.Helper()
	r, err := NewResolver(&config.DNS{
		Servers:     servers,
		Timeout:     "1s",
		BlockingIPs: []string{"0.0.0.0", "::", "198.51.100.1"},
	}, logging.Discard())
	require.NoError(t, err)
	return r
}

func TestResolver_BothFamilies(t *testing.T) {
	addr := startServer(t, &testZone{
		a:    map[string][]string{"dual.example.": {"5.6.7.8", "5.6.7.8", "9.9.9.9"}},
		aaaa: map[string][]string{"dual.example.": {"2001:db8::8"}},
	})
	r := newTestResolver(t, addr)

	addrs, err := r.ResolveDomainTargets(context.Background(), "dual.example", rulecheck.ResolveOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"5.6.7.8", "9.9.9.9", "2001:db8::8"}, addrs)
}

func TestResolver_FiltersReserved(t *testing.T) {
	addr := startServer(t, &testZone{
		a:    map[string][]string{"blocked.example.": {"0.0.0.0", "127.0.0.1", "169.254.1.1", "198.51.100.1", "8.8.8.8"}},
		aaaa: map[string][]string{"blocked.example.": {"::", "::1", "fe80::1", "ff02::1"}},
	})
	r := newTestResolver(t, addr)

	addrs, err := r.ResolveDomainTargets(context.Background(), "blocked.example", rulecheck.ResolveOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8"}, addrs)
}

func TestResolver_NXDomainIsEmpty(t *testing.T) {
	addr := startServer(t, &testZone{})
	r := newTestResolver(t, addr)

	addrs, err := r.ResolveDomainTargets(context.Background(), "missing.example", rulecheck.ResolveOptions{ExactMatch: true})

	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestResolver_InternationalizedName(t *testing.T) {
	addr := startServer(t, &testZone{
		a: map[string][]string{"xn--bcher-kva.example.": {"5.6.7.8"}},
	})
	r := newTestResolver(t, addr)

	addrs, err := r.ResolveDomainTargets(context.Background(), "Bücher.example", rulecheck.ResolveOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"5.6.7.8"}, addrs)
}

func TestResolver_TruncatedRetriesOverTCP(t *testing.T) {
	zone := &testZone{
		a:        map[string][]string{"big.example.": {"5.6.7.8"}},
		truncate: map[string]bool{"big.example.": true},
	}
	addr := startServer(t, zone)
	r := newTestResolver(t, addr)

	addrs, err := r.ResolveDomainTargets(context.Background(), "big.example", rulecheck.ResolveOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"5.6.7.8"}, addrs)
	assert.Equal(t, int32(2), zone.tcpServed.Load())
}

func TestResolver_FallsBackToNextServer(t *testing.T) {
	broken := startServer(t, &testZone{servfail: map[string]bool{"ok.example.": true}})
	good := startServer(t, &testZone{a: map[string][]string{"ok.example.": {"5.6.7.8"}}})
	r := newTestResolver(t, broken, good)

	addrs, err := r.ResolveDomainTargets(context.Background(), "ok.example", rulecheck.ResolveOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"5.6.7.8"}, addrs)
}

func TestResolver_AllServersFail(t *testing.T) {
	addr := startServer(t, &testZone{servfail: map[string]bool{"down.example.": true}})
	r := newTestResolver(t, addr)

	_, err := r.ResolveDomainTargets(context.Background(), "down.example", rulecheck.ResolveOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVFAIL")
}

func TestResolver_InvalidInput(t *testing.T) {
	r := newTestResolver(t, "127.0.0.1:1")
	_, err := r.ResolveDomainTargets(context.Background(), "bad..name", rulecheck.ResolveOptions{})
	assert.Error(t, err)

	_, err = NewResolver(&config.DNS{}, nil)
	assert.Error(t, err)

	_, err = NewResolver(&config.DNS{Servers: []string{"127.0.0.1:53"}, BlockingIPs: []string{"nope"}}, nil)
	assert.Error(t, err)
}

func TestResolver_CancelledContext(t *testing.T) {
	r := newTestResolver(t, "127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveDomainTargets(ctx, "example.com", rulecheck.ResolveOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
