package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/botrunner/pkg/models"
)

func cronSchedule(expr string) models.Schedule {
	return models.Schedule{
		BotID:          "bot-1",
		Type:           models.ScheduleTypeCron,
		CronExpression: expr,
		Enabled:        true,
	}
}

func oneTimeSchedule(date time.Time) models.Schedule {
	return models.Schedule{
		BotID:       "bot-1",
		Type:        models.ScheduleTypeOneTime,
		OneTimeDate: date,
		Enabled:     true,
	}
}

func TestValidateCron(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, e.Validate(cronSchedule("0 9 * * *"), now))

	err := e.Validate(cronSchedule("61 * * * *"), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScheduleConfig)

	err = e.Validate(cronSchedule(""), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScheduleConfig)
	assert.Contains(t, err.Error(), "requires a cron expression")

	// A cron schedule cannot also carry a one-time date.
	s := cronSchedule("0 9 * * *")
	s.OneTimeDate = now.Add(time.Hour)
	err = e.Validate(s, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not set a one-time date")
}

func TestValidateOneTime(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, e.Validate(oneTimeSchedule(now.Add(time.Hour)), now))

	err := e.Validate(oneTimeSchedule(now.Add(-time.Hour)), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScheduleConfig)
	assert.Contains(t, err.Error(), "in the past")

	err = e.Validate(oneTimeSchedule(time.Time{}), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a date")

	s := oneTimeSchedule(now.Add(time.Hour))
	s.CronExpression = "* * * * *"
	err = e.Validate(s, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not set a cron expression")
}

func TestValidateTimezoneAndType(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	s := cronSchedule("0 9 * * *")
	s.Timezone = "America/New_York"
	assert.NoError(t, e.Validate(s, now))

	s.Timezone = "Mars/Olympus"
	err := e.Validate(s, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown timezone")

	s = cronSchedule("0 9 * * *")
	s.Type = "interval"
	err = e.Validate(s, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown schedule type")
}

func TestIsDueDisabled(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s := oneTimeSchedule(now.Add(-time.Hour))
	s.Enabled = false

	due, err := e.IsDue(&s, now)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueOneTime(t *testing.T) {
	e := NewEvaluator()
	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := oneTimeSchedule(date)

	due, err := e.IsDue(&s, date.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, due)

	// Due at the exact instant and any moment after.
	due, err = e.IsDue(&s, date)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = e.IsDue(&s, date.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, due)
}

func TestIsDueCronPrimesCache(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	s := cronSchedule("0 9 * * *")

	// First evaluation primes NextRunAt and reports not due.
	due, err := e.IsDue(&s, now)
	require.NoError(t, err)
	assert.False(t, due)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), s.NextRunAt)

	// Still not due before the cached instant.
	due, err = e.IsDue(&s, time.Date(2024, 6, 1, 8, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, due)

	// Due once now reaches the cached instant.
	due, err = e.IsDue(&s, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, due)
}

func TestIsDueCronMissingExpression(t *testing.T) {
	e := NewEvaluator()
	s := cronSchedule("")

	_, err := e.IsDue(&s, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScheduleConfig)
}

func TestOnFiredOneTimeDisables(t *testing.T) {
	e := NewEvaluator()
	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := oneTimeSchedule(date)

	fired := e.OnFired(s, date.Add(time.Second))
	assert.False(t, fired.Enabled)

	// A disabled schedule is never due again.
	due, err := e.IsDue(&fired, date.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestOnFiredCronAdvances(t *testing.T) {
	e := NewEvaluator()
	s := cronSchedule("0 * * * *")
	s.NextRunAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	fired := e.OnFired(s, time.Date(2024, 6, 1, 9, 0, 30, 0, time.UTC))
	assert.True(t, fired.Enabled)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), fired.NextRunAt)
}

func TestNextRunsPreview(t *testing.T) {
	e := NewEvaluator()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	runs, err := e.NextRuns(cronSchedule("0 * * * *"), now, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC), runs[0])

	// One-time yields at most one, and nothing once passed.
	runs, err = e.NextRuns(oneTimeSchedule(now.Add(time.Hour)), now, 3)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runs, err = e.NextRuns(oneTimeSchedule(now.Add(-time.Hour)), now, 3)
	require.NoError(t, err)
	assert.Empty(t, runs)

	// Disabled schedules have no upcoming runs.
	s := cronSchedule("0 * * * *")
	s.Enabled = false
	runs, err = e.NextRuns(s, now, 3)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDescribe(t *testing.T) {
	e := NewEvaluator()

	assert.Equal(t, "Every day at 09:00", e.Describe(cronSchedule("0 9 * * *")))

	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "Once at 2024-06-01T12:00:00Z", e.Describe(oneTimeSchedule(date)))
}
