package rulecheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/rulecheck/internal/events"
	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/metrics"
	"grimm.is/rulecheck/internal/policy"
)

func ipBlock(id, target string) *policy.Policy {
	return &policy.Policy{ID: id, Type: policy.TypeIP, Action: policy.ActionBlock, Target: target}
}

func TestRunPass_IPMissingIsDrift(t *testing.T) {
	f := newFixture()
	p := ipBlock("1", "1.2.3.4")
	f.enabledWith(p)
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{"9.9.9.9"}, nil)
	f.enforcer.On("RequestReEnforcement", Command{Policy: p, Action: ActionReenforce, Reason: p}).Return(nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)
	assert.True(t, report.Verdicts[0].NeedsEnforcement)
	assert.Equal(t, []string{"1.2.3.4"}, report.Verdicts[0].Missing)
	assert.Equal(t, 1, report.Drifted)
	f.enforcer.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DriftTotal.WithLabelValues("ip")))
}

func TestRunPass_IPPresentIsConsistent(t *testing.T) {
	f := newFixture()
	f.enabledWith(ipBlock("1", "1.2.3.4"))
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{"1.2.3.4"}, nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)
	assert.False(t, report.Verdicts[0].NeedsEnforcement)
	assert.Zero(t, report.Drifted)
	f.enforcer.AssertNotCalled(t, "RequestReEnforcement", mock.Anything)
}

func TestRunPass_DomainMissingIsDrift(t *testing.T) {
	f := newFixture()
	p := &policy.Policy{ID: "7", Type: policy.TypeDomain, Action: policy.ActionAllow, Target: "bad.example"}
	f.enabledWith(p)

	set4, _ := firewall.DomainSetIDs(policy.ActionAllow, policy.DirectionAny, false)
	f.resolver.On("ResolveDomainTargets", "bad.example", ResolveOptions{SetID: set4}).Return([]string{"5.6.7.8"}, nil)
	f.lister.On("ListSetMembers", "allow_domain_set").Return([]string{}, nil)
	f.enforcer.On("RequestReEnforcement", mock.Anything).Return(nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)
	v := report.Verdicts[0]
	assert.True(t, v.NeedsEnforcement)
	assert.Equal(t, []string{"5.6.7.8"}, v.Missing)
	assert.Equal(t, []string{"allow_domain_set", "allow_domain_set6"}, setNames(v.SetIDs))
	// No IPv6 addresses, so the IPv6 set is never listed.
	f.lister.AssertNotCalled(t, "ListSetMembers", "allow_domain_set6")
	f.enforcer.AssertNumberOfCalls(t, "RequestReEnforcement", 1)
}

func TestRunPass_ExpiredPolicyNeverQueried(t *testing.T) {
	f := newFixture()
	p := ipBlock("1", "1.2.3.4")
	p.Expire = testNow.Add(-time.Hour).Unix()
	f.enabledWith(p)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Loaded)
	assert.Zero(t, report.Eligible)
	assert.Empty(t, report.Verdicts)
	f.lister.AssertNotCalled(t, "ListSetMembers", mock.Anything)
	f.enforcer.AssertNotCalled(t, "RequestReEnforcement", mock.Anything)
}

func TestRunPass_QueryFailureIsNotDrift(t *testing.T) {
	f := newFixture()
	f.enabledWith(
		ipBlock("1", "1.2.3.4"),
		ipBlock("2", "2001:db8::1"),
		&policy.Policy{ID: "3", Type: policy.TypeDNS, Target: "example.com"},
	)
	f.resolver.On("ResolveDomainTargets", "example.com", mock.Anything).Return([]string{"5.6.7.8", "2001:db8::5"}, nil)
	f.lister.On("ListSetMembers", mock.Anything).Return(nil, errors.New("nft: command not found"))

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, report.Eligible)
	assert.Zero(t, report.Drifted)
	assert.Zero(t, report.Failed)
	for _, v := range report.Verdicts {
		assert.False(t, v.NeedsEnforcement, v.PolicyID)
	}
	f.enforcer.AssertNotCalled(t, "RequestReEnforcement", mock.Anything)
}

func TestRunPass_SetListedOncePerPass(t *testing.T) {
	f := newFixture()
	f.enabledWith(ipBlock("1", "1.2.3.4"), ipBlock("2", "5.6.7.8"), ipBlock("3", "9.9.9.9"))
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{"1.2.3.4", "5.6.7.8", "9.9.9.9"}, nil)

	r := f.reconciler(t, Config{})
	report, err := r.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SetQueries)
	f.lister.AssertNumberOfCalls(t, "ListSetMembers", 1)

	// The next pass starts from an empty cache.
	_, err = r.RunPass(context.Background())
	require.NoError(t, err)
	f.lister.AssertNumberOfCalls(t, "ListSetMembers", 2)
}

func TestRunPass_NetTargetNormalized(t *testing.T) {
	f := newFixture()
	single := &policy.Policy{ID: "1", Type: policy.TypeNet, Target: "10.0.0.5/32", Direction: policy.DirectionOutbound}
	subnet := &policy.Policy{ID: "2", Type: policy.TypeNet, Target: "10.0.1.7/24", Direction: policy.DirectionOutbound}
	f.enabledWith(single, subnet)
	f.lister.On("ListSetMembers", "block_ob_net_set").Return([]string{"10.0.0.5", "10.0.1.0/24"}, nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Verdicts, 2)
	assert.False(t, report.Verdicts[0].NeedsEnforcement)
	assert.False(t, report.Verdicts[1].NeedsEnforcement)
}

func TestRunPass_SecurityAndIPv6Sets(t *testing.T) {
	f := newFixture()
	p := &policy.Policy{ID: "1", Type: policy.TypeIP, Target: "2001:db8::1", SecurityBlock: true}
	f.enabledWith(p)
	f.lister.On("ListSetMembers", "sec_block_ip_set6").Return([]string{}, nil)
	f.enforcer.On("RequestReEnforcement", mock.Anything).Return(nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Verdicts, 1)
	assert.Equal(t, "sec_block_ip_set6", report.Verdicts[0].SetIDs[0].String())
	assert.True(t, report.Verdicts[0].NeedsEnforcement)
}

func TestRunPass_MalformedTargetSkipped(t *testing.T) {
	f := newFixture()
	f.enabledWith(ipBlock("1", "not-an-address"), ipBlock("2", ""))

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Eligible)
	assert.Empty(t, report.Verdicts)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PolicyOutcomes.WithLabelValues(metrics.OutcomeSkipped)))
}

func TestRunPass_UnsupportedSetIsIsolated(t *testing.T) {
	f := newFixture()
	// Security domain sets exist only without a direction.
	bad := &policy.Policy{ID: "1", Type: policy.TypeDomain, Target: "evil.example", SecurityBlock: true, Direction: policy.DirectionInbound}
	good := ipBlock("2", "1.2.3.4")
	f.enabledWith(bad, good)
	f.resolver.On("ResolveDomainTargets", "evil.example", mock.Anything).Return([]string{"6.6.6.6"}, nil)
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{}, nil)
	f.enforcer.On("RequestReEnforcement", mock.Anything).Return(nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Verdicts, 1)
	assert.Equal(t, "2", report.Verdicts[0].PolicyID)
	f.enforcer.AssertNumberOfCalls(t, "RequestReEnforcement", 1)
}

func TestRunPass_PanicIsIsolated(t *testing.T) {
	f := newFixture()
	f.enabledWith(
		&policy.Policy{ID: "1", Type: policy.TypeDomain, Target: "boom.example"},
		ipBlock("2", "1.2.3.4"),
	)
	f.resolver.On("ResolveDomainTargets", "boom.example", mock.Anything).Run(func(mock.Arguments) {
		panic("resolver exploded")
	})
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{"1.2.3.4"}, nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Verdicts, 1)
	assert.False(t, report.Verdicts[0].NeedsEnforcement)
}

func TestRunPass_DomainEdgeCases(t *testing.T) {
	f := newFixture()
	unmapped := &policy.Policy{ID: "1", Type: policy.TypeDomain, Target: "new.example", DomainExactMatch: true}
	failing := &policy.Policy{ID: "2", Type: policy.TypeDomain, Target: "broken.example"}
	dual := &policy.Policy{ID: "3", Type: policy.TypeDomain, Target: "dual.example", Direction: policy.DirectionInbound}
	f.enabledWith(unmapped, failing, dual)

	set4, _ := firewall.DomainSetIDs(policy.ActionBlock, policy.DirectionAny, false)
	f.resolver.On("ResolveDomainTargets", "new.example", ResolveOptions{SetID: set4, ExactMatch: true}).Return([]string{}, nil)
	f.resolver.On("ResolveDomainTargets", "broken.example", mock.Anything).Return(nil, errors.New("timeout"))
	f.resolver.On("ResolveDomainTargets", "dual.example", mock.Anything).Return([]string{"5.6.7.8", "2001:db8::8"}, nil)
	f.lister.On("ListSetMembers", "block_ib_domain_set").Return([]string{"5.6.7.8"}, nil)
	f.lister.On("ListSetMembers", "block_ib_domain_set6").Return([]string{}, nil)
	f.enforcer.On("RequestReEnforcement", mock.Anything).Return(nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Verdicts, 2)
	assert.Equal(t, "1", report.Verdicts[0].PolicyID)
	assert.False(t, report.Verdicts[0].NeedsEnforcement)
	assert.Equal(t, "3", report.Verdicts[1].PolicyID)
	assert.True(t, report.Verdicts[1].NeedsEnforcement)
	assert.Equal(t, []string{"2001:db8::8"}, report.Verdicts[1].Missing)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DomainLookups.WithLabelValues("error")))
	f.resolver.AssertExpectations(t)
}

func TestRunPass_GloballyDisabled(t *testing.T) {
	f := newFixture()
	f.sw.On("IsGloballyDisabled").Return(true, nil)

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.True(t, report.Aborted)
	f.policies.AssertNotCalled(t, "LoadActivePolicies", mock.Anything)
	f.lister.AssertNotCalled(t, "ListSetMembers", mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PassesTotal.WithLabelValues(metrics.PassDisabled)))
}

func TestRunPass_StartupErrors(t *testing.T) {
	t.Run("switch", func(t *testing.T) {
		f := newFixture()
		f.sw.On("IsGloballyDisabled").Return(false, errors.New("redis down"))

		_, err := f.reconciler(t, Config{}).RunPass(context.Background())
		assert.ErrorContains(t, err, "redis down")
		f.policies.AssertNotCalled(t, "LoadActivePolicies", mock.Anything)
	})

	t.Run("load", func(t *testing.T) {
		f := newFixture()
		f.sw.On("IsGloballyDisabled").Return(false, nil)
		f.policies.On("LoadActivePolicies", mock.Anything).Return(nil, errors.New("corrupt"))

		_, err := f.reconciler(t, Config{}).RunPass(context.Background())
		assert.ErrorContains(t, err, "failed to load policies")
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PassesTotal.WithLabelValues(metrics.PassFailed)))
	})
}

func TestRunPass_EnforcerErrorDoesNotStopPass(t *testing.T) {
	f := newFixture()
	f.enabledWith(ipBlock("1", "1.2.3.4"), ipBlock("2", "5.6.7.8"))
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{}, nil)
	f.enforcer.On("RequestReEnforcement", mock.Anything).Return(errors.New("busy"))

	report, err := f.reconciler(t, Config{}).RunPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Drifted)
	f.enforcer.AssertNumberOfCalls(t, "RequestReEnforcement", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ReenforceTotal.WithLabelValues("error")))
}

func TestRunPass_PublishesSummary(t *testing.T) {
	f := newFixture()
	f.enabledWith(ipBlock("1", "1.2.3.4"))
	f.lister.On("ListSetMembers", "block_ip_set").Return([]string{"1.2.3.4"}, nil)

	hub := events.NewHub()
	ch := hub.Subscribe(1, events.EventRuleCheckPass)
	deps := f.deps()
	deps.Hub = hub
	r, err := New(Config{}, deps)
	require.NoError(t, err)

	report, err := r.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, ch, 1)
	data := (<-ch).Data.(events.RuleCheckPassData)
	assert.Equal(t, report.ID, data.PassID)
	assert.Equal(t, 1, data.Eligible)
}

func TestRunPass_DisabledPublishesAbortedSummary(t *testing.T) {
	f := newFixture()
	f.sw.On("IsGloballyDisabled").Return(true, nil)

	hub := events.NewHub()
	ch := hub.Subscribe(1, events.EventRuleCheckPass)
	deps := f.deps()
	deps.Hub = hub
	r, err := New(Config{}, deps)
	require.NoError(t, err)

	report, err := r.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, ch, 1)
	data := (<-ch).Data.(events.RuleCheckPassData)
	assert.Equal(t, report.ID, data.PassID)
	assert.True(t, data.Aborted)
	assert.Zero(t, data.Loaded)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	for _, msg := range []string{"switch", "policy source", "domain resolver", "set lister", "enforcer"} {
		assert.ErrorContains(t, err, msg)
	}

	r, err := New(Config{}, newFixture().deps())
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, r.cfg.Interval)
	assert.Equal(t, StateWaitingForInit, r.State())
}
