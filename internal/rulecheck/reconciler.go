package rulecheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/events"
	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/metrics"
	"grimm.is/rulecheck/internal/policy"
)

const (
	DefaultInterval     = 10 * time.Minute
	DefaultStartupDelay = 20 * time.Minute
)

// Config holds the reconciler settings.
type Config struct {
	Interval      time.Duration
	StartupDelay  time.Duration
	SelfDomains   []string
	SelfAddresses []string
}

// Deps are the collaborators of a Reconciler. Schedule, Clock, Logger,
// Metrics and Hub are optional.
type Deps struct {
	Switch   Switch
	Policies PolicySource
	Schedule ScheduleEvaluator
	Resolver DomainResolver
	Lister   firewall.SetLister
	Enforcer Enforcer

	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Hub receives a summary event after every completed pass.
	Hub *events.Hub
}

// Verdict is the result of checking one policy.
type Verdict struct {
	PolicyID         string
	NeedsEnforcement bool
	SetIDs           []firewall.SetID
	Missing          []string
}

// PassReport summarizes one reconciliation pass.
type PassReport struct {
	ID      string
	Started time.Time
	Ended   time.Time
	// Aborted is set when the global disable flag stopped the pass.
	Aborted bool

	Loaded     int
	Eligible   int
	Drifted    int
	Failed     int
	SetQueries int

	Verdicts []Verdict
}

// Reconciler periodically checks policies against the kernel sets.
type Reconciler struct {
	cfg    Config
	deps   Deps
	filter *Filter

	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry

	state   atomic.Int32
	started atomic.Bool
}

// New creates a reconciler waiting for the ready signal.
func New(cfg Config, deps Deps) (*Reconciler, error) {
	var errs []error
	if deps.Switch == nil {
		errs = append(errs, errors.New("switch is required"))
	}
	if deps.Policies == nil {
		errs = append(errs, errors.New("policy source is required"))
	}
	if deps.Resolver == nil {
		errs = append(errs, errors.New("domain resolver is required"))
	}
	if deps.Lister == nil {
		errs = append(errs, errors.New("set lister is required"))
	}
	if deps.Enforcer == nil {
		errs = append(errs, errors.New("enforcer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("rulecheck: %w", err)
	}

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = DefaultStartupDelay
	}

	r := &Reconciler{
		cfg:     cfg,
		deps:    deps,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	if r.clock == nil {
		r.clock = &clock.RealClock{}
	}
	if r.logger == nil {
		r.logger = logging.WithComponent("rulecheck")
	}
	if r.metrics == nil {
		r.metrics = metrics.Get()
	}
	r.filter = &Filter{
		Schedule:      deps.Schedule,
		Clock:         r.clock,
		SelfDomains:   cfg.SelfDomains,
		SelfAddresses: cfg.SelfAddresses,
	}
	r.setState(StateWaitingForInit)
	return r, nil
}

// RunPass performs one reconciliation pass. Errors are returned only when the
// pass could not start; per-policy failures are counted in the report.
func (r *Reconciler) RunPass(ctx context.Context) (*PassReport, error) {
	report := &PassReport{ID: uuid.NewString(), Started: r.clock.Now()}
	log := r.logger.With("pass", report.ID)

	disabled, err := r.deps.Switch.IsGloballyDisabled(ctx)
	if err != nil {
		r.metrics.RecordPass(metrics.PassFailed, 0, r.clock.Now())
		return nil, fmt.Errorf("failed to read global disable flag: %w", err)
	}
	if disabled {
		report.Aborted = true
		report.Ended = r.clock.Now()
		r.metrics.RecordPass(metrics.PassDisabled, 0, report.Ended)
		log.Info("all rules disabled, skipping rule check")
		if r.deps.Hub != nil {
			r.deps.Hub.EmitRuleCheckPass(events.RuleCheckPassData{PassID: report.ID, Aborted: true})
		}
		return report, nil
	}

	// Snapshots never outlive the pass that read them.
	cache := firewall.NewSetCache(r.deps.Lister, log, r.metrics)
	checker := NewChecker(cache)

	policies, err := r.deps.Policies.LoadActivePolicies(ctx, LoadOptions{IncludeDisabled: true})
	if err != nil {
		r.metrics.RecordPass(metrics.PassFailed, 0, r.clock.Now())
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	report.Loaded = len(policies)

	for _, p := range policies {
		if p == nil {
			continue
		}
		if !r.filter.IsEligible(p) {
			r.metrics.RecordOutcome(metrics.OutcomeIneligible)
			continue
		}
		report.Eligible++

		v, err := r.checkPolicy(ctx, log, checker, p)
		if err != nil {
			report.Failed++
			r.metrics.RecordOutcome(metrics.OutcomeError)
			log.Error("failed to check rule", "pid", p.ID, "error", err)
			continue
		}
		if v == nil {
			r.metrics.RecordOutcome(metrics.OutcomeSkipped)
			continue
		}
		report.Verdicts = append(report.Verdicts, *v)
		if !v.NeedsEnforcement {
			r.metrics.RecordOutcome(metrics.OutcomeConsistent)
			continue
		}

		report.Drifted++
		r.metrics.RecordOutcome(metrics.OutcomeDrift)
		r.metrics.RecordDrift(string(p.Type))
		log.Info("need to reenforce rule", "pid", p.ID, "sets", setNames(v.SetIDs), "missing", v.Missing)

		err = r.deps.Enforcer.RequestReEnforcement(ctx, Command{Policy: p, Action: ActionReenforce, Reason: p})
		r.metrics.RecordReenforce(err)
		if err != nil {
			log.Warn("failed to request rule re-enforcement", "pid", p.ID, "error", err)
		}
	}

	report.SetQueries = cache.Queries()
	report.Ended = r.clock.Now()
	duration := report.Ended.Sub(report.Started)
	r.metrics.RecordPass(metrics.PassCompleted, duration, report.Ended)

	log.Info("rule check completed",
		"policies", report.Loaded,
		"eligible", report.Eligible,
		"drifted", report.Drifted,
		"failed", report.Failed,
		"set_queries", report.SetQueries,
		"duration", duration)

	if r.deps.Hub != nil {
		r.deps.Hub.EmitRuleCheckPass(events.RuleCheckPassData{
			PassID:   report.ID,
			Loaded:   report.Loaded,
			Eligible: report.Eligible,
			Drifted:  report.Drifted,
			Failed:   report.Failed,
			Duration: duration,
		})
	}
	return report, nil
}

// checkPolicy returns nil when the policy has nothing to verify.
func (r *Reconciler) checkPolicy(ctx context.Context, log *logging.Logger, c *Checker, p *policy.Policy) (v *Verdict, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()

	if strings.TrimSpace(p.Target) == "" {
		return nil, nil
	}
	kind, ok := firewall.KindForType(p.Type)
	if !ok {
		return nil, nil
	}

	log.Debug("checking rule enforcement", "pid", p.ID)
	if kind == firewall.KindDomain {
		return r.checkDomain(ctx, log, c, p)
	}
	return r.checkAddress(ctx, log, c, p, kind)
}

func (r *Reconciler) checkAddress(ctx context.Context, log *logging.Logger, c *Checker, p *policy.Policy, kind firewall.Kind) (*Verdict, error) {
	target := p.Target
	var family firewall.Family
	var err error
	if kind == firewall.KindNet {
		target, family, err = firewall.NormalizeNetTarget(target)
	} else {
		family, err = firewall.TargetFamily(target)
	}
	if err != nil {
		log.Debug("rule target is not an address, skipping", "pid", p.ID, "target", p.Target)
		return nil, nil
	}

	id := firewall.DeriveSetID(kind, p.EffectiveAction(), p.Direction, family, p.IsSecurityBlock())
	ok, missing, err := c.AllPresent(ctx, []string{target}, id)
	if err != nil {
		return nil, err
	}
	return &Verdict{
		PolicyID:         p.ID,
		NeedsEnforcement: !ok,
		SetIDs:           []firewall.SetID{id},
		Missing:          missing,
	}, nil
}

func (r *Reconciler) checkDomain(ctx context.Context, log *logging.Logger, c *Checker, p *policy.Policy) (*Verdict, error) {
	set4, set6 := firewall.DomainSetIDs(p.EffectiveAction(), p.Direction, p.IsSecurityBlock())

	addrs, err := r.deps.Resolver.ResolveDomainTargets(ctx, p.Target, ResolveOptions{
		SetID:      set4,
		ExactMatch: p.DomainExactMatch,
	})
	r.metrics.RecordDomainLookup(err)
	if err != nil {
		log.Warn("failed to resolve rule domain", "pid", p.ID, "domain", p.Target, "error", err)
		return nil, nil
	}

	v4, v6 := PartitionByFamily(addrs)
	verdict := &Verdict{PolicyID: p.ID, SetIDs: []firewall.SetID{set4, set6}}
	if len(v4) == 0 && len(v6) == 0 {
		return verdict, nil
	}

	ok4, missing4, err := c.AllPresent(ctx, v4, set4)
	if err != nil {
		return nil, err
	}
	ok6, missing6, err := c.AllPresent(ctx, v6, set6)
	if err != nil {
		return nil, err
	}

	verdict.NeedsEnforcement = !(ok4 && ok6)
	verdict.Missing = append(missing4, missing6...)
	return verdict, nil
}

func setNames(ids []firewall.SetID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}
