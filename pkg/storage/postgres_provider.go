package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tcmartin/botrunner/pkg/models"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db             *sql.DB
	botStore       *PostgreSQLBotStore
	scheduleStore  *PostgreSQLScheduleStore
	executionStore *PostgreSQLExecutionStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	// Set default port if not specified
	if config.Port == 0 {
		config.Port = 5432
	}

	// Set default SSL mode if not specified
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	// Create connection string
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	// Connect to database
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	provider := &PostgreSQLProvider{
		db: db,
	}

	provider.botStore = NewPostgreSQLBotStore(db)
	provider.scheduleStore = NewPostgreSQLScheduleStore(db)
	provider.executionStore = NewPostgreSQLExecutionStore(db)

	return provider, nil
}

// Initialize sets up the storage backend
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.botStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize bot store: %w", err)
	}

	if err := p.scheduleStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize schedule store: %w", err)
	}

	if err := p.executionStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize execution store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetBotStore returns a store for bot records
func (p *PostgreSQLProvider) GetBotStore() BotStore {
	return p.botStore
}

// GetScheduleStore returns a store for schedule records
func (p *PostgreSQLProvider) GetScheduleStore() ScheduleStore {
	return p.scheduleStore
}

// GetExecutionStore returns a store for execution data
func (p *PostgreSQLProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// PostgreSQLBotStore implements the BotStore interface using PostgreSQL
type PostgreSQLBotStore struct {
	db *sql.DB
}

// NewPostgreSQLBotStore creates a new PostgreSQL bot store
func NewPostgreSQLBotStore(db *sql.DB) *PostgreSQLBotStore {
	return &PostgreSQLBotStore{db: db}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLBotStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			config JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS bots_user_id_idx ON bots (user_id);
	`)

	if err != nil {
		return fmt.Errorf("failed to create bots table: %w", err)
	}

	return nil
}

// SaveBot persists a bot record
func (s *PostgreSQLBotStore) SaveBot(bot models.Bot) error {
	configJSON, err := json.Marshal(bot.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal bot config: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO bots (id, user_id, name, status, config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			config = EXCLUDED.config`,
		bot.ID, bot.UserID, bot.Name, bot.Status, configJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}

	return nil
}

// GetBot retrieves a bot record
func (s *PostgreSQLBotStore) GetBot(botID string) (models.Bot, error) {
	var bot models.Bot
	var configJSON []byte

	err := s.db.QueryRow(
		`SELECT id, user_id, name, status, config FROM bots WHERE id = $1`,
		botID,
	).Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.Status, &configJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Bot{}, ErrBotNotFound
		}
		return models.Bot{}, fmt.Errorf("failed to get bot: %w", err)
	}

	if err := json.Unmarshal(configJSON, &bot.Config); err != nil {
		return models.Bot{}, fmt.Errorf("failed to unmarshal bot config: %w", err)
	}

	return bot, nil
}

// ListBots returns all bots for a user
func (s *PostgreSQLBotStore) ListBots(userID string) ([]models.Bot, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, status, config FROM bots WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	bots := make([]models.Bot, 0)
	for rows.Next() {
		var bot models.Bot
		var configJSON []byte

		if err := rows.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.Status, &configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		if err := json.Unmarshal(configJSON, &bot.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bot config: %w", err)
		}

		bots = append(bots, bot)
	}

	return bots, rows.Err()
}

// DeleteBot removes a bot record
func (s *PostgreSQLBotStore) DeleteBot(botID string) error {
	result, err := s.db.Exec(`DELETE FROM bots WHERE id = $1`, botID)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrBotNotFound
	}

	return nil
}

// PostgreSQLScheduleStore implements the ScheduleStore interface using PostgreSQL
type PostgreSQLScheduleStore struct {
	db *sql.DB
}

// NewPostgreSQLScheduleStore creates a new PostgreSQL schedule store
func NewPostgreSQLScheduleStore(db *sql.DB) *PostgreSQLScheduleStore {
	return &PostgreSQLScheduleStore{db: db}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLScheduleStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			bot_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			cron_expression TEXT,
			one_time_date TIMESTAMPTZ,
			timezone TEXT,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			next_run_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS schedules_enabled_idx ON schedules (enabled);
	`)

	if err != nil {
		return fmt.Errorf("failed to create schedules table: %w", err)
	}

	return nil
}

// SaveSchedule persists a schedule (one per bot)
func (s *PostgreSQLScheduleStore) SaveSchedule(schedule models.Schedule) error {
	_, err := s.db.Exec(
		`INSERT INTO schedules (bot_id, type, cron_expression, one_time_date, timezone, enabled, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bot_id) DO UPDATE SET
			type = EXCLUDED.type,
			cron_expression = EXCLUDED.cron_expression,
			one_time_date = EXCLUDED.one_time_date,
			timezone = EXCLUDED.timezone,
			enabled = EXCLUDED.enabled,
			next_run_at = EXCLUDED.next_run_at`,
		schedule.BotID,
		schedule.Type,
		nullString(schedule.CronExpression),
		nullTime(schedule.OneTimeDate),
		nullString(schedule.Timezone),
		schedule.Enabled,
		nullTime(schedule.NextRunAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// GetSchedule retrieves the schedule for a bot
func (s *PostgreSQLScheduleStore) GetSchedule(botID string) (models.Schedule, error) {
	row := s.db.QueryRow(
		`SELECT bot_id, type, cron_expression, one_time_date, timezone, enabled, next_run_at
		FROM schedules WHERE bot_id = $1`,
		botID,
	)

	schedule, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Schedule{}, ErrScheduleNotFound
		}
		return models.Schedule{}, fmt.Errorf("failed to get schedule: %w", err)
	}

	return schedule, nil
}

// ListEnabledSchedules returns all schedules with Enabled set
func (s *PostgreSQLScheduleStore) ListEnabledSchedules() ([]models.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT bot_id, type, cron_expression, one_time_date, timezone, enabled, next_run_at
		FROM schedules WHERE enabled = TRUE ORDER BY bot_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]models.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

// DisableSchedule clears the Enabled flag for a bot's schedule
func (s *PostgreSQLScheduleStore) DisableSchedule(botID string) error {
	result, err := s.db.Exec(`UPDATE schedules SET enabled = FALSE WHERE bot_id = $1`, botID)
	if err != nil {
		return fmt.Errorf("failed to disable schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// DeleteSchedule removes a bot's schedule
func (s *PostgreSQLScheduleStore) DeleteSchedule(botID string) error {
	result, err := s.db.Exec(`DELETE FROM schedules WHERE bot_id = $1`, botID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanSchedule
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSchedule reads one schedule row
func scanSchedule(row scanner) (models.Schedule, error) {
	var schedule models.Schedule
	var cronExpr, timezone sql.NullString
	var oneTimeDate, nextRunAt sql.NullTime

	err := row.Scan(
		&schedule.BotID,
		&schedule.Type,
		&cronExpr,
		&oneTimeDate,
		&timezone,
		&schedule.Enabled,
		&nextRunAt,
	)
	if err != nil {
		return models.Schedule{}, err
	}

	if cronExpr.Valid {
		schedule.CronExpression = cronExpr.String
	}
	if timezone.Valid {
		schedule.Timezone = timezone.String
	}
	if oneTimeDate.Valid {
		schedule.OneTimeDate = oneTimeDate.Time
	}
	if nextRunAt.Valid {
		schedule.NextRunAt = nextRunAt.Time
	}

	return schedule, nil
}

// PostgreSQLExecutionStore implements the ExecutionStore interface using PostgreSQL
type PostgreSQLExecutionStore struct {
	db *sql.DB
}

// NewPostgreSQLExecutionStore creates a new PostgreSQL execution store
func NewPostgreSQLExecutionStore(db *sql.DB) *PostgreSQLExecutionStore {
	return &PostgreSQLExecutionStore{db: db}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLExecutionStore) Initialize() error {
	// Create executions table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_data JSONB,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			duration_ms BIGINT,
			action_results JSONB,
			error TEXT,
			created_seq BIGSERIAL
		);
		CREATE INDEX IF NOT EXISTS executions_bot_id_idx ON executions (bot_id);
		CREATE INDEX IF NOT EXISTS executions_user_id_idx ON executions (user_id);
		CREATE INDEX IF NOT EXISTS executions_status_idx ON executions (status);
	`)

	if err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	// Create execution logs table; seq preserves append order even when
	// two entries land on the same timestamp
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_logs (
			seq BIGSERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			data JSONB
		);
		CREATE INDEX IF NOT EXISTS execution_logs_execution_id_idx ON execution_logs (execution_id);
	`)

	if err != nil {
		return fmt.Errorf("failed to create execution logs table: %w", err)
	}

	return nil
}

// SaveExecution persists execution data
func (s *PostgreSQLExecutionStore) SaveExecution(execution models.Execution) error {
	triggerJSON, err := marshalNullable(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	resultsJSON, err := json.Marshal(execution.ActionResults)
	if err != nil {
		return fmt.Errorf("failed to marshal action results: %w", err)
	}

	var completedAt interface{}
	if execution.CompletedAt != nil {
		completedAt = *execution.CompletedAt
	}

	_, err = s.db.Exec(
		`INSERT INTO executions (id, bot_id, user_id, trigger_type, trigger_data, status, started_at, completed_at, duration_ms, action_results, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			action_results = EXCLUDED.action_results,
			error = EXCLUDED.error`,
		execution.ID,
		execution.BotID,
		execution.UserID,
		execution.TriggerType,
		triggerJSON,
		execution.Status,
		execution.StartedAt,
		completedAt,
		execution.DurationMs,
		resultsJSON,
		nullString(execution.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution retrieves execution data
func (s *PostgreSQLExecutionStore) GetExecution(executionID string) (models.Execution, error) {
	row := s.db.QueryRow(
		`SELECT id, bot_id, user_id, trigger_type, trigger_data, status, started_at, completed_at, duration_ms, action_results, error
		FROM executions WHERE id = $1`,
		executionID,
	)

	execution, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Execution{}, ErrExecutionNotFound
		}
		return models.Execution{}, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// ListExecutions returns executions matching the filters, newest first
func (s *PostgreSQLExecutionStore) ListExecutions(filters ExecutionFilters) ([]models.Execution, error) {
	query := `SELECT id, bot_id, user_id, trigger_type, trigger_data, status, started_at, completed_at, duration_ms, action_results, error
		FROM executions WHERE 1=1`
	args := make([]interface{}, 0, 5)

	if filters.BotID != "" {
		args = append(args, filters.BotID)
		query += fmt.Sprintf(" AND bot_id = $%d", len(args))
	}
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_seq DESC"

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]models.Execution, 0)
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

// AppendActionResult appends an action result to an execution
func (s *PostgreSQLExecutionStore) AppendActionResult(executionID string, result models.ActionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal action result: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE executions
		SET action_results = COALESCE(action_results, '[]'::jsonb) || $1::jsonb
		WHERE id = $2`,
		resultJSON, executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to append action result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}

	return nil
}

// AppendExecutionLog persists an execution log entry
func (s *PostgreSQLExecutionStore) AppendExecutionLog(log models.ExecutionLog) error {
	dataJSON, err := marshalNullable(log.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal log data: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO execution_logs (execution_id, timestamp, level, message, data)
		VALUES ($1, $2, $3, $4, $5)`,
		log.ExecutionID, log.Timestamp, log.Level, log.Message, dataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

// GetExecutionLogs retrieves logs for an execution in append order
func (s *PostgreSQLExecutionStore) GetExecutionLogs(executionID string, query LogQuery) ([]models.ExecutionLog, error) {
	sqlQuery := `SELECT execution_id, timestamp, level, message, data
		FROM execution_logs WHERE execution_id = $1`
	args := []interface{}{executionID}

	if query.Level != "" {
		args = append(args, query.Level)
		sqlQuery += fmt.Sprintf(" AND level = $%d", len(args))
	}

	sqlQuery += " ORDER BY seq"

	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sqlQuery += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.ExecutionLog, 0)
	for rows.Next() {
		var entry models.ExecutionLog
		var dataJSON []byte

		if err := rows.Scan(&entry.ExecutionID, &entry.Timestamp, &entry.Level, &entry.Message, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}

		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// scanExecution reads one execution row
func scanExecution(row scanner) (models.Execution, error) {
	var execution models.Execution
	var triggerJSON, resultsJSON []byte
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var errorText sql.NullString

	err := row.Scan(
		&execution.ID,
		&execution.BotID,
		&execution.UserID,
		&execution.TriggerType,
		&triggerJSON,
		&execution.Status,
		&execution.StartedAt,
		&completedAt,
		&durationMs,
		&resultsJSON,
		&errorText,
	)
	if err != nil {
		return models.Execution{}, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		execution.CompletedAt = &t
	}
	if durationMs.Valid {
		execution.DurationMs = durationMs.Int64
	}
	if errorText.Valid {
		execution.Error = errorText.String
	}
	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &execution.TriggerData); err != nil {
			return models.Execution{}, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &execution.ActionResults); err != nil {
			return models.Execution{}, fmt.Errorf("failed to unmarshal action results: %w", err)
		}
	}

	return execution, nil
}

// nullString maps an empty string to SQL NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullTime maps a zero time to SQL NULL
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// marshalNullable marshals a map to JSON, mapping nil to SQL NULL
func marshalNullable(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}
