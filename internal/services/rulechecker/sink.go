package rulechecker

import (
	"context"
	"time"

	"grimm.is/rulecheck/internal/events"
	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/logging"
)

const hookTimeout = 30 * time.Second

// enforcementSink receives re-enforcement commands from the hub. With a
// command configured it runs it once per drifted policy, passing the policy
// id as the last argument; otherwise it logs the request.
type enforcementSink struct {
	hub     *events.Hub
	ch      <-chan events.Event
	runner  firewall.CommandRunner
	command []string
	logger  *logging.Logger
}

// newEnforcementSink subscribes right away so that no command published
// after it returns is missed.
func newEnforcementSink(hub *events.Hub, command []string, runner firewall.CommandRunner, logger *logging.Logger) *enforcementSink {
	return &enforcementSink{
		hub:     hub,
		ch:      hub.Subscribe(64, events.EventPolicyReenforce),
		runner:  runner,
		command: append([]string(nil), command...),
		logger:  logger,
	}
}

// Run handles commands until ctx is done.
func (s *enforcementSink) Run(ctx context.Context) {
	defer s.hub.Unsubscribe(s.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.ch:
			if d, ok := e.Data.(events.ReenforceData); ok {
				s.handle(ctx, d)
			}
		}
	}
}

func (s *enforcementSink) handle(ctx context.Context, d events.ReenforceData) {
	log := s.logger.WithFields(map[string]any{"pid": d.PolicyID})
	if len(s.command) == 0 {
		log.Warn("re-enforcement requested, no reenforce_command configured", "action", d.Action)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	args := append(append([]string(nil), s.command[1:]...), d.PolicyID)
	if _, err := s.runner.Output(ctx, s.command[0], args...); err != nil {
		log.Error("re-enforcement command failed", "error", err)
		return
	}
	log.Info("rule re-enforced")
}
