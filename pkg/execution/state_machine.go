package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tcmartin/botrunner/pkg/models"
	"github.com/tcmartin/botrunner/pkg/storage"
)

// Notifier receives execution updates for streaming surfaces such as
// the WebSocket manager. Implementations must not block.
type Notifier interface {
	// NotifyStatus is called after every persisted status change
	NotifyStatus(execution models.Execution)

	// NotifyLog is called after every persisted log entry
	NotifyLog(log models.ExecutionLog)
}

// StateMachine drives executions through their lifecycle:
// pending -> running -> {completed, failed}, or pending|running -> cancelled.
// All mutation of execution records goes through this type.
type StateMachine struct {
	store   storage.ExecutionStore
	timeout time.Duration

	notifier Notifier

	// lastLog tracks the last log timestamp per execution so entries are
	// strictly monotonic even when the system clock stalls
	mu      sync.Mutex
	lastLog map[string]time.Time
}

// NewStateMachine creates a state machine on top of the given execution
// store. timeout is the per-execution wall-clock budget; zero disables
// it.
func NewStateMachine(store storage.ExecutionStore, timeout time.Duration) *StateMachine {
	return &StateMachine{
		store:   store,
		timeout: timeout,
		lastLog: make(map[string]time.Time),
	}
}

// SetNotifier attaches a streaming notifier. Must be called before any
// execution starts.
func (m *StateMachine) SetNotifier(n Notifier) {
	m.notifier = n
}

// Create makes a new execution in state pending and persists it before
// any action runs, so a crash between create and run leaves a
// recoverable pending record.
func (m *StateMachine) Create(botID, userID string, triggerType models.TriggerType, triggerData map[string]interface{}) (models.Execution, error) {
	execution := models.Execution{
		ID:          uuid.New().String(),
		BotID:       botID,
		UserID:      userID,
		TriggerType: triggerType,
		TriggerData: triggerData,
		Status:      models.ExecutionPending,
		StartedAt:   time.Now().UTC(),
	}

	if err := m.store.SaveExecution(execution); err != nil {
		return models.Execution{}, fmt.Errorf("failed to persist execution: %w", err)
	}

	m.appendLog(execution.ID, models.LogInfo, "execution created", map[string]interface{}{
		"bot_id":       botID,
		"trigger_type": string(triggerType),
	})
	m.notifyStatus(execution)

	return execution, nil
}

// Start transitions pending -> running and records the run start time
func (m *StateMachine) Start(execution *models.Execution) error {
	if execution.Status != models.ExecutionPending {
		return fmt.Errorf("%w: cannot start execution in state %q", ErrInvalidTransition, execution.Status)
	}

	execution.Status = models.ExecutionRunning
	execution.StartedAt = time.Now().UTC()

	if err := m.store.SaveExecution(*execution); err != nil {
		return fmt.Errorf("failed to persist execution: %w", err)
	}

	m.appendLog(execution.ID, models.LogInfo, "execution started", nil)
	m.notifyStatus(*execution)

	return nil
}

// RunActions iterates the action list sequentially, in order. A
// structured per-action failure is recorded and the loop continues
// (best-effort); an error raised by the runner stops the loop
// immediately and is returned wrapped in ErrActionExecution. Exceeding
// the wall-clock budget returns ErrTimeout. Cancellation is observed
// between actions: if the stored record has been cancelled the loop
// stops and no further results are appended.
//
// RunActions only appends results and logs; the caller resolves the
// terminal state via Complete or Fail based on the returned error and
// the recorded results.
func (m *StateMachine) RunActions(ctx context.Context, execution *models.Execution, actions []models.Action, runner ActionRunner) error {
	if execution.Status != models.ExecutionRunning {
		return fmt.Errorf("%w: cannot run actions in state %q", ErrInvalidTransition, execution.Status)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, execution.StartedAt.Add(m.timeout))
		defer cancel()
	}

	for _, action := range actions {
		// Cooperative cancellation: re-read the stored record between
		// actions. An in-flight action is never preempted.
		if stored, err := m.store.GetExecution(execution.ID); err == nil && stored.Status == models.ExecutionCancelled {
			execution.Status = models.ExecutionCancelled
			execution.Error = stored.Error
			execution.CompletedAt = stored.CompletedAt
			m.appendLog(execution.ID, models.LogInfo, "cancellation observed, remaining actions skipped", map[string]interface{}{
				"action_id": action.ID,
			})
			return nil
		}

		if err := ctx.Err(); err != nil {
			m.appendLog(execution.ID, models.LogError, "execution exceeded its time budget", map[string]interface{}{
				"timeout": m.timeout.String(),
			})
			return fmt.Errorf("%w: budget %s exhausted", ErrTimeout, m.timeout)
		}

		startedAt := time.Now().UTC()
		outcome, runErr := runner.Run(ctx, action, execution.TriggerData)
		completedAt := time.Now().UTC()

		result := models.ActionResult{
			ActionID:    action.ID,
			Type:        action.Type,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
			DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
		}

		if runErr != nil {
			// Timeouts surface as context errors from the runner
			if errors.Is(runErr, context.DeadlineExceeded) {
				m.appendLog(execution.ID, models.LogError, "execution exceeded its time budget", map[string]interface{}{
					"action_id": action.ID,
					"timeout":   m.timeout.String(),
				})
				return fmt.Errorf("%w: action %s interrupted", ErrTimeout, action.ID)
			}

			result.Success = false
			result.Error = runErr.Error()
			m.appendResult(execution, result)
			m.appendLog(execution.ID, models.LogError, "action raised an unrecoverable error", map[string]interface{}{
				"action_id":   action.ID,
				"action_type": action.Type,
				"error":       runErr.Error(),
			})
			return fmt.Errorf("%w: action %s (%s): %v", ErrActionExecution, action.ID, action.Type, runErr)
		}

		result.Success = outcome.Success
		result.Output = outcome.Output
		result.Error = outcome.Error
		m.appendResult(execution, result)

		if outcome.Success {
			m.appendLog(execution.ID, models.LogInfo, "action completed", map[string]interface{}{
				"action_id":   action.ID,
				"action_type": action.Type,
				"duration_ms": result.DurationMs,
			})
		} else {
			m.appendLog(execution.ID, models.LogError, "action failed", map[string]interface{}{
				"action_id":   action.ID,
				"action_type": action.Type,
				"error":       outcome.Error,
			})
		}
	}

	return nil
}

// Complete transitions running -> completed and emits the final summary
// log entry
func (m *StateMachine) Complete(execution *models.Execution, summary map[string]interface{}) error {
	if execution.Status != models.ExecutionRunning {
		return fmt.Errorf("%w: cannot complete execution in state %q", ErrInvalidTransition, execution.Status)
	}

	if stored, ok := m.adoptTerminal(execution); ok {
		m.appendLog(execution.ID, models.LogInfo, "completion discarded, execution already terminal", map[string]interface{}{
			"status": string(stored.Status),
		})
		m.forget(execution.ID)
		return nil
	}

	m.finish(execution, models.ExecutionCompleted, "")

	m.appendLog(execution.ID, models.LogInfo, "execution completed", summary)
	m.notifyStatus(*execution)
	m.forget(execution.ID)

	return nil
}

// Fail transitions pending|running -> failed, recording the error
func (m *StateMachine) Fail(execution *models.Execution, cause error) error {
	if execution.Status.Terminal() {
		return fmt.Errorf("%w: cannot fail execution in state %q", ErrInvalidTransition, execution.Status)
	}

	if stored, ok := m.adoptTerminal(execution); ok {
		m.appendLog(execution.ID, models.LogWarn, "failure discarded, execution already terminal", map[string]interface{}{
			"status": string(stored.Status),
			"error":  cause.Error(),
		})
		m.forget(execution.ID)
		return nil
	}

	m.finish(execution, models.ExecutionFailed, cause.Error())

	m.appendLog(execution.ID, models.LogError, "execution failed", map[string]interface{}{
		"error": cause.Error(),
	})
	m.notifyStatus(*execution)
	m.forget(execution.ID)

	return nil
}

// Cancel marks a pending or running execution cancelled. Cancellation
// is cooperative: an action already in flight is not preempted, but no
// further actions run and the record is terminal immediately.
func (m *StateMachine) Cancel(executionID string) (models.Execution, error) {
	execution, err := m.store.GetExecution(executionID)
	if err != nil {
		return models.Execution{}, err
	}

	if execution.Status.Terminal() {
		return models.Execution{}, fmt.Errorf("%w: cannot cancel a terminal execution (status %q)", ErrInvalidTransition, execution.Status)
	}

	m.finish(&execution, models.ExecutionCancelled, "Execution cancelled by user")

	m.appendLog(execution.ID, models.LogWarn, "execution cancelled by user", nil)
	m.notifyStatus(execution)
	m.forget(execution.ID)

	return execution, nil
}

// Get retrieves an execution record
func (m *StateMachine) Get(executionID string) (models.Execution, error) {
	return m.store.GetExecution(executionID)
}

// Store exposes the underlying execution store for read-side queries
func (m *StateMachine) Store() storage.ExecutionStore {
	return m.store
}

// Logs retrieves an execution's log entries
func (m *StateMachine) Logs(executionID string, query storage.LogQuery) ([]models.ExecutionLog, error) {
	return m.store.GetExecutionLogs(executionID, query)
}

// adoptTerminal re-reads the stored record and, when a cancel (or any
// other terminal transition) landed while the final action was in
// flight, copies the stored state onto the in-memory record so the
// caller never overwrites it. Terminal states are never regressed.
func (m *StateMachine) adoptTerminal(execution *models.Execution) (models.Execution, bool) {
	stored, err := m.store.GetExecution(execution.ID)
	if err != nil || !stored.Status.Terminal() {
		return models.Execution{}, false
	}
	*execution = stored
	return stored, true
}

// finish moves an execution to a terminal state and computes its
// duration. Callers have already validated the transition.
func (m *StateMachine) finish(execution *models.Execution, status models.ExecutionStatus, errMsg string) {
	now := time.Now().UTC()
	execution.Status = status
	execution.CompletedAt = &now
	execution.DurationMs = now.Sub(execution.StartedAt).Milliseconds()
	if errMsg != "" {
		execution.Error = errMsg
	}

	if err := m.store.SaveExecution(*execution); err != nil {
		// The record is still in memory on the caller's side; surface
		// through the process log rather than losing the terminal state
		m.appendLog(execution.ID, models.LogError, "failed to persist terminal state", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// appendResult persists one action result and mirrors it on the
// in-memory record
func (m *StateMachine) appendResult(execution *models.Execution, result models.ActionResult) {
	execution.ActionResults = append(execution.ActionResults, result)
	if err := m.store.AppendActionResult(execution.ID, result); err != nil {
		m.appendLog(execution.ID, models.LogError, "failed to persist action result", map[string]interface{}{
			"action_id": result.ActionID,
			"error":     err.Error(),
		})
	}
}

// appendLog persists a log entry with a strictly increasing timestamp
func (m *StateMachine) appendLog(executionID string, level models.LogLevel, message string, data map[string]interface{}) {
	entry := models.ExecutionLog{
		ExecutionID: executionID,
		Timestamp:   m.logTime(executionID),
		Level:       level,
		Message:     message,
		Data:        data,
	}

	if err := m.store.AppendExecutionLog(entry); err != nil {
		return
	}

	if m.notifier != nil {
		m.notifier.NotifyLog(entry)
	}
}

// logTime returns a timestamp strictly after the previous entry for the
// execution
func (m *StateMachine) logTime(executionID string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if last, ok := m.lastLog[executionID]; ok && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	m.lastLog[executionID] = now

	return now
}

// forget drops the monotonic-clock entry for a finished execution
func (m *StateMachine) forget(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastLog, executionID)
}

func (m *StateMachine) notifyStatus(execution models.Execution) {
	if m.notifier != nil {
		m.notifier.NotifyStatus(execution)
	}
}
