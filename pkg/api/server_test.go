package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/botrunner/pkg/config"
	"github.com/tcmartin/botrunner/pkg/execution"
	"github.com/tcmartin/botrunner/pkg/lease"
	"github.com/tcmartin/botrunner/pkg/middleware"
	"github.com/tcmartin/botrunner/pkg/models"
	"github.com/tcmartin/botrunner/pkg/schedule"
	"github.com/tcmartin/botrunner/pkg/storage"
	"github.com/tcmartin/botrunner/pkg/trigger"
)

type apiFixture struct {
	server   *Server
	provider storage.StorageProvider
	machine  *execution.StateMachine
	tokens   *middleware.TokenService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenExpiration = 1
	cfg.Auth.SchedulerSecret = "tick-secret"

	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())

	machine := execution.NewStateMachine(provider.GetExecutionStore(), time.Minute)
	runner := execution.ActionRunnerFunc(func(ctx context.Context, action models.Action, triggerData map[string]interface{}) (execution.Outcome, error) {
		return execution.Outcome{Success: true}, nil
	})
	dispatcher := trigger.NewDispatcher(provider.GetBotStore(), machine, runner)
	evaluator := schedule.NewEvaluator()
	sweeper := trigger.NewSweeper(provider.GetBotStore(), provider.GetScheduleStore(), evaluator, dispatcher, lease.NewMemoryLease(), time.Minute, 4)

	tokens := middleware.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
	auth := middleware.NewAuthMiddleware(tokens, nil)

	server := NewServer(cfg, dispatcher, sweeper, machine, evaluator, provider.GetScheduleStore(), auth)

	return &apiFixture{
		server:   server,
		provider: provider,
		machine:  machine,
		tokens:   tokens,
	}
}

func (f *apiFixture) saveBot(t *testing.T, bot models.Bot) {
	t.Helper()
	require.NoError(t, f.provider.GetBotStore().SaveBot(bot))
}

func (f *apiFixture) authHeader(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.tokens.GenerateToken(userID)
	require.NoError(t, err)
	return "Bearer " + token
}

func (f *apiFixture) request(t *testing.T, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func testBot(id string, triggerType models.TriggerType) models.Bot {
	return models.Bot{
		ID:     id,
		UserID: "user-1",
		Name:   "test bot",
		Status: models.BotStatusActive,
		Config: models.BotConfig{
			TriggerType: triggerType,
			Actions:     []models.Action{{ID: "a1", Type: "log"}},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestManualRunRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/bots/bot-1/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManualRunSuccess(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerManual))

	rec := f.request(t, http.MethodPost, "/api/v1/bots/bot-1/run", f.authHeader(t, "user-1"),
		map[string]interface{}{"reason": "test"})
	require.Equal(t, http.StatusOK, rec.Code)

	var exec models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, models.TriggerManual, exec.TriggerType)
}

func TestManualRunUnknownBot(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/bots/missing/run", f.authHeader(t, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualRunInactiveBot(t *testing.T) {
	f := newAPIFixture(t)
	bot := testBot("bot-1", models.TriggerManual)
	bot.Status = models.BotStatusPaused
	f.saveBot(t, bot)

	rec := f.request(t, http.MethodPost, "/api/v1/bots/bot-1/run", f.authHeader(t, "user-1"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookTrigger(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerWebhook))

	rec := f.request(t, http.MethodPost, "/api/v1/hooks/bot-1?source=github", "",
		map[string]interface{}{"event": "push"})
	require.Equal(t, http.StatusOK, rec.Code)

	var exec models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, models.TriggerWebhook, exec.TriggerType)

	// Body and query parameters merge into the trigger payload, with
	// request metadata under the reserved key.
	assert.Equal(t, "push", exec.TriggerData["event"])
	assert.Equal(t, "github", exec.TriggerData["source"])
	meta, ok := exec.TriggerData["_request"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, meta["method"])
	assert.NotEmpty(t, meta["timestamp"])
}

func TestWebhookNullBody(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerWebhook))

	// A literal "null" body decodes to a nil map; the handler must
	// still merge query parameters and request metadata.
	rec := f.request(t, http.MethodPost, "/api/v1/hooks/bot-1?source=github", "", json.RawMessage("null"))
	require.Equal(t, http.StatusOK, rec.Code)

	var exec models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, "github", exec.TriggerData["source"])
	_, ok := exec.TriggerData["_request"].(map[string]interface{})
	assert.True(t, ok)
}

func TestWebhookTypeMismatch(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerManual))

	rec := f.request(t, http.MethodPost, "/api/v1/hooks/bot-1", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSchedulerTickRequiresSecret(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tick", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tick", nil)
	req.Header.Set("X-Scheduler-Secret", "wrong")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSchedulerTickRunsSweep(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerSchedule))
	require.NoError(t, f.provider.GetScheduleStore().SaveSchedule(models.Schedule{
		BotID:          "bot-1",
		Type:           models.ScheduleTypeCron,
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      time.Now().UTC().Add(-time.Minute),
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tick", nil)
	req.Header.Set("X-Scheduler-Secret", "tick-secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result trigger.SweepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, 1, result.Successful)
}

func TestSchedulerTickRejectsBadNow(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tick?now=yesterday", nil)
	req.Header.Set("X-Scheduler-Secret", "tick-secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerTickEmptyConfiguredSecret(t *testing.T) {
	f := newAPIFixture(t)
	f.server.config.Auth.SchedulerSecret = ""

	// An unset secret never authenticates, not even an empty header.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/tick", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSchedulerDuePreview(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerSchedule))
	require.NoError(t, f.provider.GetScheduleStore().SaveSchedule(models.Schedule{
		BotID:          "bot-1",
		Type:           models.ScheduleTypeCron,
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      time.Now().UTC().Add(-time.Minute),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scheduler/due", nil)
	req.Header.Set("X-Scheduler-Secret", "tick-secret")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Bots []trigger.DueBot `json:"bots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Bots, 1)
	assert.Equal(t, "bot-1", body.Bots[0].ID)
}

func TestListExecutionsScopedToUser(t *testing.T) {
	f := newAPIFixture(t)

	for i, userID := range []string{"user-1", "user-1", "user-2"} {
		_, err := f.machine.Create(fmt.Sprintf("bot-%d", i), userID, models.TriggerManual, nil)
		require.NoError(t, err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/executions", f.authHeader(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var execs []models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execs))
	require.Len(t, execs, 2)
	for _, exec := range execs {
		assert.Equal(t, "user-1", exec.UserID)
	}
}

func TestListExecutionsNegativeOffset(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.machine.Create("bot-1", "user-1", models.TriggerManual, nil)
	require.NoError(t, err)

	rec := f.request(t, http.MethodGet, "/api/v1/executions?offset=-1", f.authHeader(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var execs []models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execs))
	assert.Len(t, execs, 1)
}

func TestGetExecution(t *testing.T) {
	f := newAPIFixture(t)

	exec, err := f.machine.Create("bot-1", "user-1", models.TriggerManual, nil)
	require.NoError(t, err)

	rec := f.request(t, http.MethodGet, "/api/v1/executions/"+exec.ID, f.authHeader(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, exec.ID, got.ID)

	rec = f.request(t, http.MethodGet, "/api/v1/executions/missing", f.authHeader(t, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExecutionLogs(t *testing.T) {
	f := newAPIFixture(t)

	exec, err := f.machine.Create("bot-1", "user-1", models.TriggerManual, nil)
	require.NoError(t, err)

	rec := f.request(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/logs", f.authHeader(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []models.ExecutionLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.NotEmpty(t, logs)
}

func TestCancelExecution(t *testing.T) {
	f := newAPIFixture(t)

	exec, err := f.machine.Create("bot-1", "user-1", models.TriggerManual, nil)
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", f.authHeader(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.ExecutionCancelled, got.Status)

	// Cancelling again conflicts: the record is terminal.
	rec = f.request(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", f.authHeader(t, "user-1"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/executions/missing/cancel", f.authHeader(t, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutAndGetSchedule(t *testing.T) {
	f := newAPIFixture(t)
	f.saveBot(t, testBot("bot-1", models.TriggerSchedule))

	rec := f.request(t, http.MethodPut, "/api/v1/bots/bot-1/schedule", f.authHeader(t, "user-1"),
		map[string]interface{}{
			"type":            "cron",
			"cron_expression": "0 9 * * *",
			"enabled":         true,
		})
	require.Equal(t, http.StatusOK, rec.Code)

	var saved models.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, "bot-1", saved.BotID)
	assert.False(t, saved.NextRunAt.IsZero(), "the cron cache is primed on save")

	rec = f.request(t, http.MethodGet, "/api/v1/bots/bot-1/schedule", f.authHeader(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "0 9 * * *", got.CronExpression)
}

func TestPutScheduleRejectsInvalid(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPut, "/api/v1/bots/bot-1/schedule", f.authHeader(t, "user-1"),
		map[string]interface{}{
			"type":            "cron",
			"cron_expression": "61 * * * *",
			"enabled":         true,
		})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScheduleNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/bots/missing/schedule", f.authHeader(t, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateScheduleEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/schedules/validate", f.authHeader(t, "user-1"),
		map[string]interface{}{
			"type":            "cron",
			"cron_expression": "0 9 * * *",
		})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, "Every day at 09:00", resp.Description)
	assert.Len(t, resp.NextRuns, 5)
}

func TestValidateScheduleEndpointInvalid(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/schedules/validate", f.authHeader(t, "user-1"),
		map[string]interface{}{
			"type":            "cron",
			"cron_expression": "not a cron",
		})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Error)
}
