package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/tcmartin/botrunner/pkg/models"
)

// Errors returned by the in-memory storage provider
var (
	ErrBotNotFound       = errors.New("bot not found")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrExecutionNotFound = errors.New("execution not found")
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	botStore       *MemoryBotStore
	scheduleStore  *MemoryScheduleStore
	executionStore *MemoryExecutionStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		botStore:       NewMemoryBotStore(),
		scheduleStore:  NewMemoryScheduleStore(),
		executionStore: NewMemoryExecutionStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetBotStore returns a store for bot records
func (p *MemoryProvider) GetBotStore() BotStore {
	return p.botStore
}

// GetScheduleStore returns a store for schedule records
func (p *MemoryProvider) GetScheduleStore() ScheduleStore {
	return p.scheduleStore
}

// GetExecutionStore returns a store for execution data
func (p *MemoryProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// MemoryBotStore implements the BotStore interface using in-memory storage
type MemoryBotStore struct {
	bots map[string]models.Bot
	mu   sync.RWMutex
}

// NewMemoryBotStore creates a new in-memory bot store
func NewMemoryBotStore() *MemoryBotStore {
	return &MemoryBotStore{
		bots: make(map[string]models.Bot),
	}
}

// SaveBot persists a bot record
func (s *MemoryBotStore) SaveBot(bot models.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bots[bot.ID] = bot

	return nil
}

// GetBot retrieves a bot record
func (s *MemoryBotStore) GetBot(botID string) (models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bot, ok := s.bots[botID]
	if !ok {
		return models.Bot{}, ErrBotNotFound
	}

	return bot, nil
}

// ListBots returns all bots for a user
func (s *MemoryBotStore) ListBots(userID string) ([]models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bots := make([]models.Bot, 0)
	for _, bot := range s.bots {
		if bot.UserID == userID {
			bots = append(bots, bot)
		}
	}

	return bots, nil
}

// DeleteBot removes a bot record
func (s *MemoryBotStore) DeleteBot(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[botID]; !ok {
		return ErrBotNotFound
	}

	delete(s.bots, botID)

	return nil
}

// MemoryScheduleStore implements the ScheduleStore interface using in-memory storage
type MemoryScheduleStore struct {
	schedules map[string]models.Schedule
	mu        sync.RWMutex
}

// NewMemoryScheduleStore creates a new in-memory schedule store
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{
		schedules: make(map[string]models.Schedule),
	}
}

// SaveSchedule persists a schedule (one per bot)
func (s *MemoryScheduleStore) SaveSchedule(schedule models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[schedule.BotID] = schedule

	return nil
}

// GetSchedule retrieves the schedule for a bot
func (s *MemoryScheduleStore) GetSchedule(botID string) (models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[botID]
	if !ok {
		return models.Schedule{}, ErrScheduleNotFound
	}

	return schedule, nil
}

// ListEnabledSchedules returns all schedules with Enabled set
func (s *MemoryScheduleStore) ListEnabledSchedules() ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]models.Schedule, 0)
	for _, schedule := range s.schedules {
		if schedule.Enabled {
			schedules = append(schedules, schedule)
		}
	}

	// Stable order so sweeps are deterministic
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].BotID < schedules[j].BotID
	})

	return schedules, nil
}

// DisableSchedule clears the Enabled flag for a bot's schedule
func (s *MemoryScheduleStore) DisableSchedule(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[botID]
	if !ok {
		return ErrScheduleNotFound
	}

	schedule.Enabled = false
	s.schedules[botID] = schedule

	return nil
}

// DeleteSchedule removes a bot's schedule
func (s *MemoryScheduleStore) DeleteSchedule(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[botID]; !ok {
		return ErrScheduleNotFound
	}

	delete(s.schedules, botID)

	return nil
}

// MemoryExecutionStore implements the ExecutionStore interface using in-memory storage
type MemoryExecutionStore struct {
	executions map[string]models.Execution
	order      []string
	logs       map[string][]models.ExecutionLog
	mu         sync.RWMutex
}

// NewMemoryExecutionStore creates a new in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]models.Execution),
		logs:       make(map[string][]models.ExecutionLog),
	}
}

// SaveExecution persists execution data
func (s *MemoryExecutionStore) SaveExecution(execution models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[execution.ID]; !ok {
		s.order = append(s.order, execution.ID)
	}
	s.executions[execution.ID] = execution

	return nil
}

// GetExecution retrieves execution data
func (s *MemoryExecutionStore) GetExecution(executionID string) (models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return models.Execution{}, ErrExecutionNotFound
	}

	return execution, nil
}

// ListExecutions returns executions matching the filters, newest first
func (s *MemoryExecutionStore) ListExecutions(filters ExecutionFilters) ([]models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.Execution, 0)
	// Walk insertion order backwards so results come newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		execution := s.executions[s.order[i]]
		if filters.BotID != "" && execution.BotID != filters.BotID {
			continue
		}
		if filters.UserID != "" && execution.UserID != filters.UserID {
			continue
		}
		if filters.Status != "" && execution.Status != filters.Status {
			continue
		}
		matched = append(matched, execution)
	}

	return paginate(matched, filters.Offset, filters.Limit), nil
}

// AppendActionResult appends an action result to an execution
func (s *MemoryExecutionStore) AppendActionResult(executionID string, result models.ActionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}

	execution.ActionResults = append(execution.ActionResults, result)
	s.executions[executionID] = execution

	return nil
}

// AppendExecutionLog persists an execution log entry
func (s *MemoryExecutionStore) AppendExecutionLog(log models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[log.ExecutionID] = append(s.logs[log.ExecutionID], log)

	return nil
}

// GetExecutionLogs retrieves logs for an execution in append order
func (s *MemoryExecutionStore) GetExecutionLogs(executionID string, query LogQuery) ([]models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs, ok := s.logs[executionID]
	if !ok {
		return []models.ExecutionLog{}, nil
	}

	matched := make([]models.ExecutionLog, 0, len(logs))
	for _, entry := range logs {
		if query.Level != "" && entry.Level != query.Level {
			continue
		}
		matched = append(matched, entry)
	}

	return paginateLogs(matched, query.Offset, query.Limit), nil
}

// paginate applies offset/limit to an execution slice. A negative
// offset is treated as zero.
func paginate(items []models.Execution, offset, limit int) []models.Execution {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []models.Execution{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// paginateLogs applies offset/limit to a log slice. A negative offset
// is treated as zero.
func paginateLogs(items []models.ExecutionLog, offset, limit int) []models.ExecutionLog {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []models.ExecutionLog{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
