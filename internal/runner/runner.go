// Package runner executes one engine adapter pipeline under a hard
// wall-clock timeout. Timeout enforcement is process-level: adapter calls go
// through blocking third-party clients that cannot be cooperatively
// cancelled, so a stuck call is killed with its worker process.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/engine"
	"github.com/answerlens/answerlens/internal/model"
)

// ErrTimeout marks a pipeline that exceeded its per-cycle budget. Callers
// treat it differently from a generic failure, so it must stay
// distinguishable.
var ErrTimeout = eris.New("runner: timed out")

// Result is the output of one full adapter pipeline:
// fetch -> parse -> normalize -> extract_citations.
type Result struct {
	Raw       engine.RawEvidence  `json:"raw"`
	Answer    engine.ParsedAnswer `json:"answer"`
	Citations []model.Citation    `json:"citations"`
}

// Request is the subprocess wire format on stdin.
type Request struct {
	Engine string            `json:"engine"`
	Input  engine.FetchInput `json:"input"`
}

// Response is the subprocess wire format on stdout.
type Response struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Runner runs adapter pipelines in-process or in a worker subprocess.
type Runner struct {
	factory *engine.Factory

	// execPath and execArgs describe how to re-invoke this binary as a
	// pipeline worker; tests substitute a helper process here.
	execPath string
	execArgs []string
}

// Option configures the runner.
type Option func(*Runner)

// WithExecCommand overrides the worker subprocess invocation.
func WithExecCommand(path string, args ...string) Option {
	return func(r *Runner) {
		r.execPath = path
		r.execArgs = args
	}
}

// New creates a Runner that isolates timed pipelines by re-executing the
// current binary with the engine-exec subcommand.
func New(factory *engine.Factory, opts ...Option) *Runner {
	r := &Runner{factory: factory}
	if path, err := os.Executable(); err == nil {
		r.execPath = path
		r.execArgs = []string{"engine-exec"}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunPipeline executes the four adapter stages in order. A tagged fetch
// failure surfaces as an error; Parse and ExtractCitations never fail.
func RunPipeline(ctx context.Context, a engine.Adapter, in engine.FetchInput) (*Result, error) {
	raw := a.Fetch(ctx, in)
	if raw.Failed() {
		return &Result{Raw: raw}, eris.Errorf("runner: adapter %s: %s", a.Name(), raw.Err)
	}
	ans := a.Normalize(a.Parse(raw))
	return &Result{
		Raw:       raw,
		Answer:    ans,
		Citations: a.ExtractCitations(ans),
	}, nil
}

// Run executes the pipeline for the named engine. With no timeout (<= 0) it
// runs in-process and synchronously. With a timeout it runs in a worker
// subprocess that is force-killed and reaped if the budget elapses,
// returning ErrTimeout.
func (r *Runner) Run(ctx context.Context, engineName string, in engine.FetchInput, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		adapter, err := r.factory.New(engineName)
		if err != nil {
			return nil, err
		}
		return RunPipeline(ctx, adapter, in)
	}
	return r.runIsolated(ctx, engineName, in, timeout)
}

func (r *Runner) runIsolated(ctx context.Context, engineName string, in engine.FetchInput, timeout time.Duration) (*Result, error) {
	if r.execPath == "" {
		return nil, eris.New("runner: worker executable path unknown")
	}

	reqBody, err := json.Marshal(Request{Engine: engineName, Input: in})
	if err != nil {
		return nil, eris.Wrap(err, "runner: marshal request")
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, r.execPath, r.execArgs...)
	cmd.Stdin = bytes.NewReader(reqBody)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Give the killed worker a moment to be reaped, then abandon Wait.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if tctx.Err() == context.DeadlineExceeded {
		zap.L().Warn("runner: worker killed on timeout",
			zap.String("engine", engineName),
			zap.Duration("timeout", timeout),
			zap.Duration("elapsed", elapsed),
		)
		return nil, eris.Wrapf(ErrTimeout, "engine %s after %s", engineName, timeout)
	}
	if runErr != nil {
		return nil, eris.Wrapf(runErr, "runner: worker failed: %s", stderr.String())
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, eris.Wrapf(err, "runner: decode worker output: %q", stdout.String())
	}
	if resp.Error != "" {
		return nil, eris.Errorf("runner: %s", resp.Error)
	}
	if resp.Result == nil {
		return nil, eris.New("runner: worker returned no result")
	}
	return resp.Result, nil
}

// Exec is the worker-side entry point: it reads a Request from stdin, runs
// the pipeline in-process, and writes a Response to stdout. Failures are
// reported in-band so the parent can distinguish pipeline errors from
// worker crashes.
func Exec(ctx context.Context, factory *engine.Factory, stdin []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(stdin, &req); err != nil {
		return nil, eris.Wrap(err, "runner: decode request")
	}

	resp := Response{}
	adapter, err := factory.New(req.Engine)
	if err != nil {
		resp.Error = err.Error()
	} else if result, err := RunPipeline(ctx, adapter, req.Input); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, eris.Wrap(err, "runner: encode response")
	}
	return out, nil
}
