// Package storage provides interfaces for persistent storage.
package storage

import (
	"github.com/tcmartin/botrunner/pkg/models"
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetBotStore returns a store for bot records
	GetBotStore() BotStore

	// GetScheduleStore returns a store for schedule records
	GetScheduleStore() ScheduleStore

	// GetExecutionStore returns a store for execution data
	GetExecutionStore() ExecutionStore
}

// BotStore manages bot persistence. The engine only reads bots; writes
// come from the surrounding CRUD application (or the seed loader).
type BotStore interface {
	// SaveBot persists a bot record
	SaveBot(bot models.Bot) error

	// GetBot retrieves a bot record
	GetBot(botID string) (models.Bot, error)

	// ListBots returns all bots for a user
	ListBots(userID string) ([]models.Bot, error)

	// DeleteBot removes a bot record
	DeleteBot(botID string) error
}

// ScheduleStore manages schedule persistence
type ScheduleStore interface {
	// SaveSchedule persists a schedule (one per bot)
	SaveSchedule(schedule models.Schedule) error

	// GetSchedule retrieves the schedule for a bot
	GetSchedule(botID string) (models.Schedule, error)

	// ListEnabledSchedules returns all schedules with Enabled set
	ListEnabledSchedules() ([]models.Schedule, error)

	// DisableSchedule clears the Enabled flag for a bot's schedule
	DisableSchedule(botID string) error

	// DeleteSchedule removes a bot's schedule
	DeleteSchedule(botID string) error
}

// ExecutionFilters narrows ListExecutions results
type ExecutionFilters struct {
	// BotID filters by bot (empty matches all)
	BotID string

	// UserID filters by owning user (empty matches all)
	UserID string

	// Status filters by execution status (empty matches all)
	Status models.ExecutionStatus

	// Offset is the number of matching executions to skip
	Offset int

	// Limit caps the number of executions returned (0 means no cap)
	Limit int
}

// LogQuery narrows GetExecutionLogs results
type LogQuery struct {
	// Level filters by log level (empty matches all)
	Level models.LogLevel

	// Offset is the number of matching entries to skip
	Offset int

	// Limit caps the number of entries returned (0 means no cap)
	Limit int
}

// ExecutionStore manages execution data persistence
type ExecutionStore interface {
	// SaveExecution persists execution data
	SaveExecution(execution models.Execution) error

	// GetExecution retrieves execution data
	GetExecution(executionID string) (models.Execution, error)

	// ListExecutions returns executions matching the filters, newest first
	ListExecutions(filters ExecutionFilters) ([]models.Execution, error)

	// AppendActionResult appends an action result to an execution
	AppendActionResult(executionID string, result models.ActionResult) error

	// AppendExecutionLog persists an execution log entry
	AppendExecutionLog(log models.ExecutionLog) error

	// GetExecutionLogs retrieves logs for an execution in append order
	GetExecutionLogs(executionID string, query LogQuery) ([]models.ExecutionLog, error)
}
