package execution

import "errors"

// Errors returned by the execution state machine
var (
	// ErrInvalidTransition indicates an attempt to move an execution
	// backward or out of a terminal state
	ErrInvalidTransition = errors.New("invalid execution state transition")

	// ErrActionExecution indicates an action raised an unrecoverable
	// error while running
	ErrActionExecution = errors.New("action execution error")

	// ErrTimeout indicates the execution exceeded its wall-clock budget
	ErrTimeout = errors.New("execution timed out")
)
