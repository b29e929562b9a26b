package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/botrunner/pkg/models"
)

func TestBotStoreRoundTrip(t *testing.T) {
	store := NewMemoryBotStore()

	bot := models.Bot{
		ID:     "bot-1",
		UserID: "user-1",
		Name:   "digest",
		Status: models.BotStatusActive,
		Config: models.BotConfig{
			TriggerType: models.TriggerSchedule,
			Actions:     []models.Action{{ID: "a1", Type: "log"}},
		},
	}
	require.NoError(t, store.SaveBot(bot))

	got, err := store.GetBot("bot-1")
	require.NoError(t, err)
	assert.Equal(t, bot, got)

	_, err = store.GetBot("missing")
	assert.ErrorIs(t, err, ErrBotNotFound)

	require.NoError(t, store.DeleteBot("bot-1"))
	_, err = store.GetBot("bot-1")
	assert.ErrorIs(t, err, ErrBotNotFound)
	assert.ErrorIs(t, store.DeleteBot("bot-1"), ErrBotNotFound)
}

func TestBotStoreListByUser(t *testing.T) {
	store := NewMemoryBotStore()

	require.NoError(t, store.SaveBot(models.Bot{ID: "b1", UserID: "alice"}))
	require.NoError(t, store.SaveBot(models.Bot{ID: "b2", UserID: "alice"}))
	require.NoError(t, store.SaveBot(models.Bot{ID: "b3", UserID: "bob"}))

	bots, err := store.ListBots("alice")
	require.NoError(t, err)
	assert.Len(t, bots, 2)

	bots, err = store.ListBots("nobody")
	require.NoError(t, err)
	assert.Empty(t, bots)
}

func TestScheduleStoreRoundTrip(t *testing.T) {
	store := NewMemoryScheduleStore()

	sched := models.Schedule{
		BotID:          "bot-1",
		Type:           models.ScheduleTypeCron,
		CronExpression: "0 9 * * *",
		Enabled:        true,
	}
	require.NoError(t, store.SaveSchedule(sched))

	got, err := store.GetSchedule("bot-1")
	require.NoError(t, err)
	assert.Equal(t, sched, got)

	// One schedule per bot: a save replaces the previous one.
	sched.CronExpression = "0 12 * * *"
	require.NoError(t, store.SaveSchedule(sched))
	got, err = store.GetSchedule("bot-1")
	require.NoError(t, err)
	assert.Equal(t, "0 12 * * *", got.CronExpression)

	_, err = store.GetSchedule("missing")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestScheduleStoreListEnabled(t *testing.T) {
	store := NewMemoryScheduleStore()

	require.NoError(t, store.SaveSchedule(models.Schedule{BotID: "b2", Type: models.ScheduleTypeCron, Enabled: true}))
	require.NoError(t, store.SaveSchedule(models.Schedule{BotID: "b1", Type: models.ScheduleTypeCron, Enabled: true}))
	require.NoError(t, store.SaveSchedule(models.Schedule{BotID: "b3", Type: models.ScheduleTypeCron, Enabled: false}))

	schedules, err := store.ListEnabledSchedules()
	require.NoError(t, err)
	require.Len(t, schedules, 2)

	// Deterministic order by bot ID.
	assert.Equal(t, "b1", schedules[0].BotID)
	assert.Equal(t, "b2", schedules[1].BotID)
}

func TestScheduleStoreDisable(t *testing.T) {
	store := NewMemoryScheduleStore()

	require.NoError(t, store.SaveSchedule(models.Schedule{BotID: "b1", Type: models.ScheduleTypeOneTime, Enabled: true}))
	require.NoError(t, store.DisableSchedule("b1"))

	got, err := store.GetSchedule("b1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	schedules, err := store.ListEnabledSchedules()
	require.NoError(t, err)
	assert.Empty(t, schedules)

	assert.ErrorIs(t, store.DisableSchedule("missing"), ErrScheduleNotFound)
}

func seedExecutions(t *testing.T, store *MemoryExecutionStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		userID := "alice"
		status := models.ExecutionCompleted
		if i%2 == 1 {
			userID = "bob"
			status = models.ExecutionFailed
		}
		require.NoError(t, store.SaveExecution(models.Execution{
			ID:        fmt.Sprintf("exec-%d", i),
			BotID:     "bot-1",
			UserID:    userID,
			Status:    status,
			StartedAt: time.Now().UTC(),
		}))
	}
}

func TestExecutionStoreListNewestFirst(t *testing.T) {
	store := NewMemoryExecutionStore()
	seedExecutions(t, store, 4)

	execs, err := store.ListExecutions(ExecutionFilters{})
	require.NoError(t, err)
	require.Len(t, execs, 4)
	assert.Equal(t, "exec-3", execs[0].ID)
	assert.Equal(t, "exec-0", execs[3].ID)
}

func TestExecutionStoreFilters(t *testing.T) {
	store := NewMemoryExecutionStore()
	seedExecutions(t, store, 6)

	execs, err := store.ListExecutions(ExecutionFilters{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, execs, 3)

	execs, err = store.ListExecutions(ExecutionFilters{Status: models.ExecutionFailed})
	require.NoError(t, err)
	assert.Len(t, execs, 3)

	execs, err = store.ListExecutions(ExecutionFilters{UserID: "alice", Status: models.ExecutionFailed})
	require.NoError(t, err)
	assert.Empty(t, execs)

	execs, err = store.ListExecutions(ExecutionFilters{BotID: "other"})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestExecutionStorePagination(t *testing.T) {
	store := NewMemoryExecutionStore()
	seedExecutions(t, store, 5)

	execs, err := store.ListExecutions(ExecutionFilters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "exec-4", execs[0].ID)

	execs, err = store.ListExecutions(ExecutionFilters{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "exec-2", execs[0].ID)

	execs, err = store.ListExecutions(ExecutionFilters{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, execs)

	// A negative offset from an unvalidated query parameter is treated
	// as zero rather than panicking.
	execs, err = store.ListExecutions(ExecutionFilters{Offset: -1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "exec-4", execs[0].ID)
}

func TestExecutionStoreAppendActionResult(t *testing.T) {
	store := NewMemoryExecutionStore()

	require.NoError(t, store.SaveExecution(models.Execution{ID: "exec-1", Status: models.ExecutionRunning}))

	require.NoError(t, store.AppendActionResult("exec-1", models.ActionResult{ActionID: "a1", Success: true}))
	require.NoError(t, store.AppendActionResult("exec-1", models.ActionResult{ActionID: "a2", Success: false}))

	got, err := store.GetExecution("exec-1")
	require.NoError(t, err)
	require.Len(t, got.ActionResults, 2)
	assert.Equal(t, "a1", got.ActionResults[0].ActionID)

	err = store.AppendActionResult("missing", models.ActionResult{})
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutionStoreLogs(t *testing.T) {
	store := NewMemoryExecutionStore()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		level := models.LogInfo
		if i == 2 {
			level = models.LogError
		}
		require.NoError(t, store.AppendExecutionLog(models.ExecutionLog{
			ExecutionID: "exec-1",
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Level:       level,
			Message:     fmt.Sprintf("entry %d", i),
		}))
	}

	logs, err := store.GetExecutionLogs("exec-1", LogQuery{})
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, "entry 0", logs[0].Message)

	logs, err = store.GetExecutionLogs("exec-1", LogQuery{Level: models.LogError})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "entry 2", logs[0].Message)

	logs, err = store.GetExecutionLogs("exec-1", LogQuery{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "entry 1", logs[0].Message)

	logs, err = store.GetExecutionLogs("exec-1", LogQuery{Offset: -1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "entry 0", logs[0].Message)

	logs, err = store.GetExecutionLogs("missing", LogQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestFactoryCreatesMemoryProvider(t *testing.T) {
	provider, err := NewProvider(ProviderConfig{Type: MemoryProviderType})
	require.NoError(t, err)
	require.NoError(t, provider.Initialize())
	assert.NotNil(t, provider.GetBotStore())
	assert.NotNil(t, provider.GetScheduleStore())
	assert.NotNil(t, provider.GetExecutionStore())
	assert.NoError(t, provider.Close())
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: "cassandra"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider type")
}

func TestFactoryRequiresPostgresConfig(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: PostgreSQLProviderType})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgreSQL configuration is required")
}
