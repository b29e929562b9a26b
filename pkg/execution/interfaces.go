// Package execution owns the lifecycle of bot executions: creation,
// status transitions, action-by-action running, logging, and
// completion, failure, or cancellation.
package execution

import (
	"context"

	"github.com/tcmartin/botrunner/pkg/models"
)

// Outcome is the structured result of a single action invocation. A
// runner that can carry on reports failure here instead of returning an
// error, so the remaining actions still get a chance to run.
type Outcome struct {
	// Success indicates whether the action achieved its purpose
	Success bool

	// Output is the action's result payload
	Output map[string]interface{}

	// Error describes the failure when Success is false
	Error string
}

// ActionRunner is the opaque capability that executes a single action.
// Returning a non-nil error is treated as unrecoverable and aborts the
// remaining actions; a structured failure is reported through Outcome.
type ActionRunner interface {
	// Run executes one action with the execution's trigger data
	Run(ctx context.Context, action models.Action, triggerData map[string]interface{}) (Outcome, error)
}

// ActionRunnerFunc adapts a function to the ActionRunner interface
type ActionRunnerFunc func(ctx context.Context, action models.Action, triggerData map[string]interface{}) (Outcome, error)

// Run executes one action with the execution's trigger data
func (f ActionRunnerFunc) Run(ctx context.Context, action models.Action, triggerData map[string]interface{}) (Outcome, error) {
	return f(ctx, action, triggerData)
}
