package models

import "time"

// ExecutionStatus represents the lifecycle state of an execution
type ExecutionStatus string

// Execution statuses. Transitions are monotonic forward only:
// pending -> running -> {completed, failed}, or pending|running -> cancelled.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Execution is one tracked run of a bot's actions
type Execution struct {
	// ID of the execution
	ID string `json:"id"`

	// BotID is the ID of the bot being executed
	BotID string `json:"bot_id"`

	// UserID is the ID of the user that owns the bot
	UserID string `json:"user_id"`

	// TriggerType records how the execution was started
	TriggerType TriggerType `json:"trigger_type"`

	// TriggerData is the opaque payload supplied by the trigger
	TriggerData map[string]interface{} `json:"trigger_data,omitempty"`

	// Status of the execution
	Status ExecutionStatus `json:"status"`

	// StartedAt is when the execution was created
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the execution reached a terminal state
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DurationMs is the wall-clock duration in milliseconds
	DurationMs int64 `json:"duration_ms,omitempty"`

	// ActionResults holds one entry per action run, in action-list order
	ActionResults []ActionResult `json:"action_results,omitempty"`

	// Error message if the execution failed or was cancelled
	Error string `json:"error,omitempty"`
}

// ActionResult records the outcome of a single action within an
// execution. Results are appended strictly in action-list order and
// never mutated after append.
type ActionResult struct {
	// ActionID is the ID of the action that ran
	ActionID string `json:"action_id"`

	// Type of the action
	Type string `json:"type"`

	// Success indicates whether the action reported success
	Success bool `json:"success"`

	// Output is the result payload on success
	Output map[string]interface{} `json:"output,omitempty"`

	// Error message if the action failed
	Error string `json:"error,omitempty"`

	// StartedAt is when the action started
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the action finished
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the action duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
}

// LogLevel is the severity of an execution log entry
type LogLevel string

// Log levels
const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// ExecutionLog is an append-only log entry for an execution, ordered by
// timestamp
type ExecutionLog struct {
	// ExecutionID is the ID of the execution the entry belongs to
	ExecutionID string `json:"execution_id"`

	// Timestamp of the log entry; monotonically increasing per execution
	Timestamp time.Time `json:"timestamp"`

	// Level of the log entry
	Level LogLevel `json:"level"`

	// Message is the log message
	Message string `json:"message"`

	// Data is optional structured metadata
	Data map[string]interface{} `json:"data,omitempty"`
}
