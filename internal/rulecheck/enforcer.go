package rulecheck

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/rulecheck/internal/events"
)

// ErrNotDelivered is returned when no subscriber accepted a re-enforcement
// command.
var ErrNotDelivered = errors.New("re-enforcement request not delivered")

// HubEnforcer publishes re-enforcement commands on the event hub. The policy
// manager subscribes to EventPolicyReenforce and owns the outcome.
type HubEnforcer struct {
	hub *events.Hub
}

// NewHubEnforcer returns an Enforcer backed by hub.
func NewHubEnforcer(hub *events.Hub) *HubEnforcer {
	return &HubEnforcer{hub: hub}
}

func (e *HubEnforcer) RequestReEnforcement(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cmd.Policy == nil {
		return errors.New("re-enforcement command without policy")
	}
	n := e.hub.EmitReenforce(events.ReenforceData{
		PolicyID: cmd.Policy.ID,
		Action:   cmd.Action,
		Policy:   cmd.Policy,
		Reason:   cmd.Reason,
	})
	if n == 0 {
		return fmt.Errorf("%w: pid %s", ErrNotDelivered, cmd.Policy.ID)
	}
	return nil
}
