package rulecheck

import (
	"context"
	"errors"
	"fmt"
)

// State is the lifecycle state of a Reconciler.
type State int32

const (
	StateIdle State = iota
	StateWaitingForInit
	StateArmed
	StatePass
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForInit:
		return "waiting_for_init"
	case StateArmed:
		return "armed"
	case StatePass:
		return "pass"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

func (r *Reconciler) setState(s State) {
	r.state.Store(int32(s))
}

// Start registers the loop with ready. Once the signal fires the loop waits
// out the startup delay, then runs a pass every interval until ctx is done.
// Start may be called only once.
func (r *Reconciler) Start(ctx context.Context, ready ReadySignal) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("rule check already started")
	}
	ready.OnSystemReady(func() {
		go r.run(ctx)
	})
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	r.logger.Info("policies initialized, scheduling rule check",
		"startup_delay", r.cfg.StartupDelay,
		"interval", r.cfg.Interval)

	select {
	case <-ctx.Done():
		r.setState(StateIdle)
		return
	case <-r.clock.After(r.cfg.StartupDelay):
	}

	for {
		r.setState(StateArmed)
		select {
		case <-ctx.Done():
			r.setState(StateIdle)
			return
		case <-r.clock.After(r.cfg.Interval):
		}

		r.setState(StatePass)
		r.safePass(ctx)
	}
}

func (r *Reconciler) safePass(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("rule check pass panicked", "panic", rec)
		}
	}()
	if _, err := r.RunPass(ctx); err != nil {
		r.logger.Error("rule check pass failed", "error", err)
	}
}
