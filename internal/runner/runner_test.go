package runner

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/engine"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// TestHelperProcess is re-executed as the worker subprocess by the tests
// below; it is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_RUNNER_HELPER") != "1" {
		return
	}
	mode := os.Getenv("GO_RUNNER_HELPER_MODE")
	switch mode {
	case "sleep":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "exec":
		stdin, err := io.ReadAll(os.Stdin)
		if err != nil {
			os.Exit(1)
		}
		out, err := Exec(context.Background(), engine.NewFactory(engine.Deps{}), stdin)
		if err != nil {
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		os.Exit(0)
	default:
		os.Exit(1)
	}
}

func helperRunner(t *testing.T, mode string) *Runner {
	t.Helper()
	t.Setenv("GO_RUNNER_HELPER", "1")
	t.Setenv("GO_RUNNER_HELPER_MODE", mode)
	return New(
		engine.NewFactory(engine.Deps{}),
		WithExecCommand(os.Args[0], "-test.run=TestHelperProcess"),
	)
}

func TestRunInProcess(t *testing.T) {
	r := New(engine.NewFactory(engine.Deps{}))
	result, err := r.Run(context.Background(), "sandbox", engine.FetchInput{Query: "o que é pix"}, 0)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Answer.Text)
	assert.Len(t, result.Citations, 3)
}

func TestRunInProcessAdapterError(t *testing.T) {
	r := New(engine.NewFactory(engine.Deps{}))
	_, err := r.Run(context.Background(), "sandbox", engine.FetchInput{
		Query:  "x",
		Config: map[string]any{"fail": true},
	}, 0)
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "forced failure")
}

func TestRunInProcessUnknownEngine(t *testing.T) {
	r := New(engine.NewFactory(engine.Deps{}))
	_, err := r.Run(context.Background(), "bing", engine.FetchInput{Query: "x"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")
}

func TestRunIsolatedSuccess(t *testing.T) {
	r := helperRunner(t, "exec")
	result, err := r.Run(context.Background(), "sandbox", engine.FetchInput{Query: "o que é pix"}, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Answer.Text)
	assert.Len(t, result.Citations, 3)
}

func TestRunIsolatedPipelineError(t *testing.T) {
	r := helperRunner(t, "exec")
	_, err := r.Run(context.Background(), "sandbox", engine.FetchInput{
		Query:  "x",
		Config: map[string]any{"fail": true},
	}, 5*time.Second)
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "forced failure")
}

func TestRunIsolatedTimeoutKillsWorker(t *testing.T) {
	r := helperRunner(t, "sleep")

	start := time.Now()
	_, err := r.Run(context.Background(), "sandbox", engine.FetchInput{Query: "x"}, 1*time.Second)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrTimeout), "expected ErrTimeout, got: %v", err)
	// Must come back within roughly the budget, not the worker's 30s sleep.
	assert.Less(t, elapsed, 4*time.Second)
}

func TestRunIsolatedCallerCancel(t *testing.T) {
	r := helperRunner(t, "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Run(ctx, "sandbox", engine.FetchInput{Query: "x"}, 10*time.Second)
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecRoundTrip(t *testing.T) {
	req, err := json.Marshal(Request{Engine: "sandbox", Input: engine.FetchInput{Query: "o que é pix"}})
	require.NoError(t, err)

	out, err := Exec(context.Background(), engine.NewFactory(engine.Deps{}), req)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Len(t, resp.Result.Citations, 3)
}

func TestExecReportsUnknownEngineInBand(t *testing.T) {
	req, err := json.Marshal(Request{Engine: "bing", Input: engine.FetchInput{Query: "x"}})
	require.NoError(t, err)

	out, err := Exec(context.Background(), engine.NewFactory(engine.Deps{}), req)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Nil(t, resp.Result)
	assert.Contains(t, resp.Error, "unknown engine")
}
