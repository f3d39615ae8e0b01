package scheduler

import (
	"math"
	"sync"
	"time"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/policy"
)

// MaxWindow bounds how far back a fire time is searched for.
const MaxWindow = 7 * 24 * time.Hour

// Evaluator decides whether a cron-scheduled policy is currently active. A
// policy becomes active at each fire time of its CronTime expression and
// stays active for Duration seconds (one minute when unset).
type Evaluator struct {
	clock  clock.Clock
	loc    *time.Location
	logger *logging.Logger

	mu     sync.Mutex
	parsed map[string]*CronSchedule
	bad    map[string]bool
}

// NewEvaluator creates an evaluator reading time from clk and matching cron
// fields in loc. Nil arguments fall back to the real clock and time.Local.
func NewEvaluator(clk clock.Clock, loc *time.Location, logger *logging.Logger) *Evaluator {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.WithComponent("scheduler")
	}
	return &Evaluator{
		clock:  clk,
		loc:    loc,
		logger: logger,
		parsed: make(map[string]*CronSchedule),
		bad:    make(map[string]bool),
	}
}

// ShouldPolicyBeRunning returns the seconds left in the policy's current
// active window, or 0 when it is outside every window or its expression
// does not parse.
func (e *Evaluator) ShouldPolicyBeRunning(p *policy.Policy) int {
	if p == nil || p.CronTime == "" {
		return 0
	}
	sched := e.schedule(p.CronTime)
	if sched == nil {
		return 0
	}

	window := time.Duration(p.Duration) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	lookback := min(window, MaxWindow)

	now := e.clock.Now().In(e.loc)
	fired, ok := sched.Prev(now, lookback)
	if !ok {
		return 0
	}
	end := fired.Add(window)
	if !end.After(now) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Seconds()))
}

// NextActivation returns when the policy's schedule fires next. ok is false
// for unscheduled policies, unparseable expressions and schedules that never
// fire.
func (e *Evaluator) NextActivation(p *policy.Policy) (next time.Time, ok bool) {
	if p == nil || p.CronTime == "" {
		return time.Time{}, false
	}
	sched := e.schedule(p.CronTime)
	if sched == nil {
		return time.Time{}, false
	}
	next = sched.Next(e.clock.Now().In(e.loc))
	return next, !next.IsZero()
}

func (e *Evaluator) schedule(expr string) *CronSchedule {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.parsed[expr]; ok {
		return s
	}
	if e.bad[expr] {
		return nil
	}
	s, err := Cron(expr)
	if err != nil {
		e.bad[expr] = true
		e.logger.Warn("ignoring unparseable cron expression", "cron", expr, "error", err)
		return nil
	}
	e.parsed[expr] = s
	return s
}
