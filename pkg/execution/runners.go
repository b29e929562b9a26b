package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tcmartin/botrunner/pkg/models"
)

// BuiltinRunner executes the small set of action types that ship with the
// engine. Anything it does not recognize fails the action rather than the
// whole execution, so a bot with one bad action still reports results for
// the rest.
type BuiltinRunner struct {
	// HTTPClient is used for http actions. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client
}

// NewBuiltinRunner creates a runner with default settings.
func NewBuiltinRunner() *BuiltinRunner {
	return &BuiltinRunner{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run executes a single action.
func (r *BuiltinRunner) Run(ctx context.Context, action models.Action, triggerData map[string]interface{}) (Outcome, error) {
	switch action.Type {
	case "log":
		return r.runLog(action)
	case "delay":
		return r.runDelay(ctx, action)
	case "http":
		return r.runHTTP(ctx, action)
	default:
		return Outcome{
			Success: false,
			Error:   fmt.Sprintf("unknown action type %q", action.Type),
		}, nil
	}
}

func (r *BuiltinRunner) runLog(action models.Action) (Outcome, error) {
	message, _ := action.Params["message"].(string)
	return Outcome{
		Success: true,
		Output:  map[string]interface{}{"message": message},
	}, nil
}

func (r *BuiltinRunner) runDelay(ctx context.Context, action models.Action) (Outcome, error) {
	ms, ok := action.Params["duration_ms"].(float64)
	if !ok || ms < 0 {
		return Outcome{Success: false, Error: "delay action requires a non-negative duration_ms"}, nil
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-timer.C:
		return Outcome{
			Success: true,
			Output:  map[string]interface{}{"slept_ms": ms},
		}, nil
	}
}

func (r *BuiltinRunner) runHTTP(ctx context.Context, action models.Action) (Outcome, error) {
	url, _ := action.Params["url"].(string)
	if url == "" {
		return Outcome{Success: false, Error: "http action requires a url"}, nil
	}

	method, _ := action.Params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload, ok := action.Params["body"]; ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return Outcome{Success: false, Error: fmt.Sprintf("failed to encode request body: %v", err)}, nil
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Outcome{Success: false, Error: fmt.Sprintf("failed to build request: %v", err)}, nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := action.Params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{Success: false, Error: fmt.Sprintf("request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Success: false, Error: fmt.Sprintf("failed to read response: %v", err)}, nil
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}
	if resp.StatusCode >= 400 {
		return Outcome{
			Success: false,
			Output:  output,
			Error:   fmt.Sprintf("request returned status %d", resp.StatusCode),
		}, nil
	}

	return Outcome{Success: true, Output: output}, nil
}
