// Package trigger contains the engine entry points: the dispatcher that
// turns a manual, scheduled, or webhook trigger into an execution, and
// the sweep that finds and fires due bots.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcmartin/botrunner/pkg/execution"
	"github.com/tcmartin/botrunner/pkg/models"
	"github.com/tcmartin/botrunner/pkg/storage"
)

// Errors returned by the dispatcher
var (
	// ErrBotNotActive indicates the bot exists but is paused or stopped
	ErrBotNotActive = errors.New("bot is not active")

	// ErrTriggerTypeMismatch indicates a webhook trigger hit a bot that
	// is not configured for webhooks
	ErrTriggerTypeMismatch = errors.New("trigger type does not match bot configuration")
)

// Dispatcher is the single entry point for all trigger paths. It
// validates preconditions, creates the execution, and runs the bot's
// action list to completion through the state machine.
type Dispatcher struct {
	bots    storage.BotStore
	machine *execution.StateMachine
	runner  execution.ActionRunner
}

// NewDispatcher creates a dispatcher
func NewDispatcher(bots storage.BotStore, machine *execution.StateMachine, runner execution.ActionRunner) *Dispatcher {
	return &Dispatcher{
		bots:    bots,
		machine: machine,
		runner:  runner,
	}
}

// Dispatch runs a bot now. Precondition failures (unknown bot, inactive
// bot, trigger type mismatch) return an error and create no execution
// record. Once the execution exists, failures are recorded on the
// returned execution rather than returned as an error: the synchronous
// contract is to wait for completion and hand back the final state.
func (d *Dispatcher) Dispatch(ctx context.Context, botID string, triggerType models.TriggerType, triggerData map[string]interface{}) (models.Execution, error) {
	bot, err := d.bots.GetBot(botID)
	if err != nil {
		return models.Execution{}, fmt.Errorf("failed to load bot %s: %w", botID, err)
	}

	if !bot.IsActive() {
		return models.Execution{}, fmt.Errorf("%w: bot %s has status %q", ErrBotNotActive, botID, bot.Status)
	}

	// Manual triggers are always allowed on an active bot; scheduled
	// triggers come through the sweep which consults the schedule store.
	// Only webhooks must match the bot's configured trigger type.
	if triggerType == models.TriggerWebhook && bot.Config.TriggerType != models.TriggerWebhook {
		return models.Execution{}, fmt.Errorf("%w: bot %s is configured for %q triggers", ErrTriggerTypeMismatch, botID, bot.Config.TriggerType)
	}

	exec, err := d.machine.Create(botID, bot.UserID, triggerType, triggerData)
	if err != nil {
		return models.Execution{}, err
	}

	if err := d.machine.Start(&exec); err != nil {
		d.machine.Fail(&exec, err)
		return exec, nil
	}

	// A running execution uses a snapshot of the action list; later
	// edits to the bot never affect an in-flight run
	actions := append([]models.Action(nil), bot.Config.Actions...)

	runErr := d.machine.RunActions(ctx, &exec, actions, d.runner)

	// Cancellation observed mid-run already left the record terminal
	if exec.Status == models.ExecutionCancelled {
		return exec, nil
	}

	if runErr != nil {
		d.machine.Fail(&exec, runErr)
		return exec, nil
	}

	if failed := countFailures(exec.ActionResults); failed > 0 {
		d.machine.Fail(&exec, fmt.Errorf("%d of %d actions failed", failed, len(actions)))
		return exec, nil
	}

	d.machine.Complete(&exec, map[string]interface{}{
		"actions":   len(actions),
		"succeeded": len(actions),
	})

	return exec, nil
}

// countFailures counts structured action failures
func countFailures(results []models.ActionResult) int {
	n := 0
	for _, result := range results {
		if !result.Success {
			n++
		}
	}
	return n
}
