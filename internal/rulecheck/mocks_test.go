package rulecheck

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/metrics"
	"grimm.is/rulecheck/internal/policy"
)

type mockSwitch struct{ mock.Mock }

func (m *mockSwitch) IsGloballyDisabled(ctx context.Context) (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

type mockPolicySource struct{ mock.Mock }

func (m *mockPolicySource) LoadActivePolicies(ctx context.Context, opts LoadOptions) ([]*policy.Policy, error) {
	args := m.Called(opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*policy.Policy), args.Error(1)
}

type mockSchedule struct{ mock.Mock }

func (m *mockSchedule) ShouldPolicyBeRunning(p *policy.Policy) int {
	return m.Called(p).Int(0)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) ResolveDomainTargets(ctx context.Context, domain string, opts ResolveOptions) ([]string, error) {
	args := m.Called(domain, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockLister struct{ mock.Mock }

func (m *mockLister) ListSetMembers(ctx context.Context, name string) ([]string, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockEnforcer struct{ mock.Mock }

func (m *mockEnforcer) RequestReEnforcement(ctx context.Context, cmd Command) error {
	return m.Called(cmd).Error(0)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sw       *mockSwitch
	policies *mockPolicySource
	schedule *mockSchedule
	resolver *mockResolver
	lister   *mockLister
	enforcer *mockEnforcer
	clock    *clock.MockClock
	metrics  *metrics.Registry
}

func newFixture() *fixture {
	reg := prometheus.NewRegistry()
	return &fixture{
		sw:       new(mockSwitch),
		policies: new(mockPolicySource),
		schedule: new(mockSchedule),
		resolver: new(mockResolver),
		lister:   new(mockLister),
		enforcer: new(mockEnforcer),
		clock:    clock.NewMockClock(testNow),
		metrics:  metrics.New(reg, reg),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Switch:   f.sw,
		Policies: f.policies,
		Schedule: f.schedule,
		Resolver: f.resolver,
		Lister:   f.lister,
		Enforcer: f.enforcer,
		Clock:    f.clock,
		Logger:   logging.Discard(),
		Metrics:  f.metrics,
	}
}

func (f *fixture) reconciler(t *testing.T, cfg Config) *Reconciler {
	t.Helper()
	r, err := New(cfg, f.deps())
	require.NoError(t, err)
	return r
}

// enabledWith sets up an enabled pass loading ps.
func (f *fixture) enabledWith(ps ...*policy.Policy) {
	f.sw.On("IsGloballyDisabled").Return(false, nil)
	f.policies.On("LoadActivePolicies", LoadOptions{IncludeDisabled: true}).Return(ps, nil)
}
