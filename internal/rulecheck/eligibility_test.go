package rulecheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/policy"
)

func basePolicy() *policy.Policy {
	return &policy.Policy{ID: "1", Type: policy.TypeIP, Action: policy.ActionBlock, Target: "1.2.3.4"}
}

func TestFilter_IsEligible(t *testing.T) {
	ttl := 300
	now := testNow

	tests := []struct {
		name   string
		mutate func(p *policy.Policy)
		want   bool
	}{
		{"plain ip block", func(p *policy.Policy) {}, true},
		{"default action", func(p *policy.Policy) { p.Action = "" }, true},
		{"net", func(p *policy.Policy) { p.Type = policy.TypeNet; p.Target = "10.0.0.0/24" }, true},
		{"domain", func(p *policy.Policy) { p.Type = policy.TypeDomain; p.Target = "example.com" }, true},
		{"dns", func(p *policy.Policy) { p.Type = policy.TypeDNS; p.Target = "example.com" }, true},
		{"mac type", func(p *policy.Policy) { p.Type = "mac" }, false},
		{"category type", func(p *policy.Policy) { p.Type = "category" }, false},
		{"qos action", func(p *policy.Policy) { p.Action = "qos" }, false},
		{"disabled", func(p *policy.Policy) { p.Disabled = true }, false},
		{"dns only", func(p *policy.Policy) { p.DNSOnly = true }, false},
		{"ttl", func(p *policy.Policy) { p.TTLSeconds = &ttl }, false},
		{"expired", func(p *policy.Policy) { p.Expire = now.Add(-time.Hour).Unix() }, false},
		{"expiring soon", func(p *policy.Policy) { p.Expire = now.Add(30 * time.Second).Unix() }, false},
		{"expires later", func(p *policy.Policy) { p.Expire = now.Add(time.Hour).Unix() }, true},
		{"activated with duration", func(p *policy.Policy) {
			p.Expire = now.Add(-time.Minute).Unix()
			p.Duration = 3600
		}, true},
		{"empty scope", func(p *policy.Policy) { p.Scope = []string{} }, true},
		{"scope", func(p *policy.Policy) { p.Scope = []string{"aa:bb:cc:dd:ee:ff"} }, false},
		{"tag", func(p *policy.Policy) { p.Tags = []string{"intf:lan"} }, false},
		{"guids", func(p *policy.Policy) { p.GUIDs = []string{"wg_peer:abc"} }, false},
		{"rule group", func(p *policy.Policy) { p.ParentRuleGroupID = "rg1" }, false},
		{"local port", func(p *policy.Policy) { p.LocalPort = "22" }, false},
		{"remote port", func(p *policy.Policy) { p.RemotePort = "443" }, false},
		{"high seq", func(p *policy.Policy) { p.Seq = policy.SeqHigh }, false},
		{"regular seq", func(p *policy.Policy) { p.Seq = policy.SeqRegular }, true},
		{"self domain block", func(p *policy.Policy) { p.Type = policy.TypeDomain; p.Target = "api.grimm.is" }, false},
		{"self domain allow", func(p *policy.Policy) {
			p.Type = policy.TypeDomain
			p.Target = "grimm.is"
			p.Action = policy.ActionAllow
		}, true},
		{"lookalike domain", func(p *policy.Policy) { p.Type = policy.TypeDomain; p.Target = "notgrimm.is" }, true},
		{"self address", func(p *policy.Policy) { p.Target = "203.0.113.7" }, false},
		{"net covering self address", func(p *policy.Policy) { p.Type = policy.TypeNet; p.Target = "203.0.113.0/24" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Filter{
				Clock:         clock.NewMockClock(now),
				SelfDomains:   []string{"grimm.is"},
				SelfAddresses: []string{"203.0.113.7"},
			}
			p := basePolicy()
			tt.mutate(p)
			assert.Equal(t, tt.want, f.IsEligible(p))
		})
	}
}

func TestFilter_Schedule(t *testing.T) {
	sched := new(mockSchedule)
	f := &Filter{Schedule: sched, Clock: clock.NewMockClock(testNow)}

	running := basePolicy()
	running.CronTime = "0 8 * * *"
	stopped := basePolicy()
	stopped.ID = "2"
	stopped.CronTime = "0 20 * * *"

	sched.On("ShouldPolicyBeRunning", running).Return(1)
	sched.On("ShouldPolicyBeRunning", stopped).Return(0)

	assert.True(t, f.IsEligible(running))
	assert.False(t, f.IsEligible(stopped))
	sched.AssertExpectations(t)
}

func TestFilter_ScheduleNotConsulted(t *testing.T) {
	sched := new(mockSchedule)
	f := &Filter{Schedule: sched, Clock: clock.NewMockClock(testNow)}

	unscheduled := basePolicy()
	assert.True(t, f.IsEligible(unscheduled))

	otherType := basePolicy()
	otherType.Type = "mac"
	otherType.CronTime = "* * * * *"
	assert.False(t, f.IsEligible(otherType))

	disabled := basePolicy()
	disabled.Disabled = true
	disabled.CronTime = "* * * * *"
	assert.False(t, f.IsEligible(disabled))

	sched.AssertNotCalled(t, "ShouldPolicyBeRunning", mock.Anything)
}

func TestFilter_CronWithoutEvaluator(t *testing.T) {
	p := basePolicy()
	p.CronTime = "* * * * *"
	assert.False(t, (&Filter{}).IsEligible(p))
}
