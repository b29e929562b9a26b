package execution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/botrunner/pkg/models"
)

func TestBuiltinRunnerLog(t *testing.T) {
	r := NewBuiltinRunner()

	outcome, err := r.Run(context.Background(), models.Action{
		ID:     "a1",
		Type:   "log",
		Params: map[string]interface{}{"message": "hello"},
	}, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "hello", outcome.Output["message"])
}

func TestBuiltinRunnerUnknownType(t *testing.T) {
	r := NewBuiltinRunner()

	// Unknown action types fail the action, not the execution.
	outcome, err := r.Run(context.Background(), models.Action{ID: "a1", Type: "teleport"}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "unknown action type")
}

func TestBuiltinRunnerDelay(t *testing.T) {
	r := NewBuiltinRunner()

	outcome, err := r.Run(context.Background(), models.Action{
		ID:     "a1",
		Type:   "delay",
		Params: map[string]interface{}{"duration_ms": float64(5)},
	}, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	// Missing duration is a structured failure.
	outcome, err = r.Run(context.Background(), models.Action{ID: "a2", Type: "delay"}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
}

func TestBuiltinRunnerDelayCancelled(t *testing.T) {
	r := NewBuiltinRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, models.Action{
		ID:     "a1",
		Type:   "delay",
		Params: map[string]interface{}{"duration_ms": float64(60000)},
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuiltinRunnerHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	r := NewBuiltinRunner()

	outcome, err := r.Run(context.Background(), models.Action{
		ID:     "a1",
		Type:   "http",
		Params: map[string]interface{}{"url": server.URL},
	}, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, http.StatusOK, outcome.Output["status_code"])
	assert.Contains(t, outcome.Output["body"], "ok")
}

func TestBuiltinRunnerHTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	r := NewBuiltinRunner()

	outcome, err := r.Run(context.Background(), models.Action{
		ID:     "a1",
		Type:   "http",
		Params: map[string]interface{}{"url": server.URL},
	}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "403")
}

func TestBuiltinRunnerHTTPMissingURL(t *testing.T) {
	r := NewBuiltinRunner()

	outcome, err := r.Run(context.Background(), models.Action{ID: "a1", Type: "http"}, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "url")
}
