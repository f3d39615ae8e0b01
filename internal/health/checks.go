package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/events"
	"grimm.is/rulecheck/internal/services"
)

// StatusReporter is implemented by every service.
type StatusReporter interface {
	Status() services.ServiceStatus
}

// ServiceCheck reports a service as unhealthy when its last start failed.
// A stopped service without an error is healthy; it is disabled.
func ServiceCheck(svc StatusReporter) CheckFunc {
	return func(ctx context.Context) Check {
		st := svc.Status()
		switch {
		case st.Error != "":
			return Check{Status: StatusUnhealthy, Message: st.Error}
		case !st.Running:
			return Check{Status: StatusHealthy, Message: "disabled"}
		case st.State != "":
			return Check{Status: StatusHealthy, Message: st.State}
		}
		return Check{Status: StatusHealthy, Message: "running"}
	}
}

// HubCheck degrades while the event hub keeps dropping events for full
// subscribers. Drops are counted since the previous check.
func HubCheck(hub *events.Hub) CheckFunc {
	var mu sync.Mutex
	var lastDropped uint64
	return func(ctx context.Context) Check {
		published, dropped := hub.Stats()

		mu.Lock()
		fresh := dropped - lastDropped
		lastDropped = dropped
		mu.Unlock()

		if fresh > 0 {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("%d events dropped since last check", fresh)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d published, %d dropped", published, dropped)}
	}
}

// PassTracker remembers when the last reconciliation pass finished.
type PassTracker struct {
	clock clock.Clock

	mu      sync.Mutex
	last    time.Time
	drifted int
	aborted bool
	maxAge  time.Duration
}

// NewPassTracker creates a tracker that degrades once no pass has been seen
// for maxAge; call Run to start following hub.
func NewPassTracker(clk clock.Clock, maxAge time.Duration) *PassTracker {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &PassTracker{clock: clk, maxAge: maxAge}
}

// SetMaxAge changes the staleness limit, e.g. after the interval was
// reloaded.
func (t *PassTracker) SetMaxAge(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxAge = maxAge
}

// Run records pass summaries from hub until ctx is done.
func (t *PassTracker) Run(ctx context.Context, hub *events.Hub) {
	ch := hub.Subscribe(8, events.EventRuleCheckPass)
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if d, ok := e.Data.(events.RuleCheckPassData); ok {
				t.Observe(d)
			}
		}
	}
}

// Observe records one pass summary. A pass skipped because every rule is
// globally disabled still counts as a pass.
func (t *PassTracker) Observe(d events.RuleCheckPassData) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.clock.Now()
	t.drifted = d.Drifted
	t.aborted = d.Aborted
}

// Check returns a CheckFunc that degrades once no pass has been seen for the
// tracker's maxAge. Before the first pass the checker is still waiting for
// its start delay and reports healthy.
func (t *PassTracker) Check() CheckFunc {
	return func(ctx context.Context) Check {
		t.mu.Lock()
		last, drifted, aborted, maxAge := t.last, t.drifted, t.aborted, t.maxAge
		t.mu.Unlock()

		if last.IsZero() {
			return Check{Status: StatusHealthy, Message: "no pass yet"}
		}
		if age := t.clock.Since(last); age > maxAge {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("last pass %s ago", age.Round(time.Second))}
		}
		if aborted {
			return Check{Status: StatusHealthy, Message: "rules globally disabled"}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("last pass drifted %d", drifted)}
	}
}
