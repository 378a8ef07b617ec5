package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/cost"
	"github.com/answerlens/answerlens/internal/engine"
	"github.com/answerlens/answerlens/internal/kpi"
	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/orchestrator"
	"github.com/answerlens/answerlens/internal/runner"
	"github.com/answerlens/answerlens/internal/scheduler"
	"github.com/answerlens/answerlens/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	scorer := kpi.NewScorer(st, kpi.DefaultWeights())
	costs := cost.NewCalculator()
	r := runner.New(engine.NewFactory(engine.Deps{}))
	orch := orchestrator.New(st, r, scorer, costs, 0)
	disp := orchestrator.NewDispatcher(orch, st, orchestrator.DispatchConfig{Workers: 1})
	sched := scheduler.New(st, disp, time.Minute)
	streamer := orchestrator.NewStreamer(st, 20*time.Millisecond)

	return &appEnv{
		Store:        st,
		Runner:       r,
		Orchestrator: orch,
		Dispatcher:   disp,
		Scheduler:    sched,
		Streamer:     streamer,
		Scorer:       scorer,
		Costs:        costs,
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(newTestEnv(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateRunEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.Dispatcher.Start(ctx)
	defer env.Dispatcher.Stop()

	router := newRouter(env)
	body, err := json.Marshal(createRunRequest{
		ProjectID: "proj-1",
		Prompt:    "o que é pix",
		Engine:    model.EngineSpec{Name: "sandbox", Config: map[string]any{"timeout_seconds": 0}},
		Cycles:    1,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)

	// The worker picks it up and drives it to completion.
	require.Eventually(t, func() bool {
		got, err := env.Store.GetRun(context.Background(), run.ID)
		return err == nil && got.Status.Terminal()
	}, 10*time.Second, 50*time.Millisecond)

	got, err := env.Store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestCreateRunValidation(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	router := newRouter(newTestEnv(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunEventsAndReportEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Store.AddDomain(ctx, "proj-1", "bcb.gov.br")
	require.NoError(t, err)
	eng, err := env.Store.ResolveEngine(ctx, "proj-1", model.EngineSpec{Name: "sandbox"})
	require.NoError(t, err)
	pv, err := env.Store.CreatePromptVersion(ctx, "proj-1", "o que é pix")
	require.NoError(t, err)
	run, err := env.Store.CreateRun(ctx, model.Run{
		ProjectID: "proj-1", PromptVersionID: pv.ID, EngineID: eng.ID, Cycles: 1,
	})
	require.NoError(t, err)
	require.NoError(t, env.Orchestrator.Execute(ctx, run.ID))

	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+run.ID+"/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var events []model.RunEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.NotEmpty(t, events)
	assert.Equal(t, model.StepCompleted, events[len(events)-1].Step)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+run.ID+"/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report kpi.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1.0, report.AMR)
	assert.Equal(t, 1.0, report.DCR)
	assert.Equal(t, 50.0, report.ZCRS)
	assert.Len(t, report.Citations, 3)
}

func TestStreamEndpointDeliversBacklog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	eng, err := env.Store.ResolveEngine(ctx, "proj-1", model.EngineSpec{Name: "sandbox"})
	require.NoError(t, err)
	pv, err := env.Store.CreatePromptVersion(ctx, "proj-1", "o que é pix")
	require.NoError(t, err)
	run, err := env.Store.CreateRun(ctx, model.Run{
		ProjectID: "proj-1", PromptVersionID: pv.ID, EngineID: eng.ID, Cycles: 1,
	})
	require.NoError(t, err)
	require.NoError(t, env.Orchestrator.Execute(ctx, run.ID))

	srv := httptest.NewServer(newRouter(env))
	defer srv.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/runs/"+run.ID+"/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Read until the terminal event shows up in the SSE body, then hang up.
	buf := make([]byte, 4096)
	var got []byte
	for {
		n, err := resp.Body.Read(buf)
		got = append(got, buf[:n]...)
		if bytes.Contains(got, []byte(`"step":"completed"`)) {
			break
		}
		if err != nil {
			t.Fatalf("stream ended early: %v\n%s", err, got)
		}
	}
	assert.Contains(t, string(got), "data: ")
}

func TestMonitorRunNowEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.Dispatcher.Start(ctx)
	defer env.Dispatcher.Stop()

	tpl, err := env.Store.CreateTemplate(ctx, model.PromptTemplate{
		ProjectID: "proj-1", Name: "pix", Text: "o que é pix",
	})
	require.NoError(t, err)
	mon, err := env.Store.CreateMonitor(ctx, model.Monitor{
		ProjectID:    "proj-1",
		Name:         "pix watch",
		ScheduleCron: "*/5 * * * *",
		Active:       true,
		TemplateIDs:  []string{tpl.ID},
		Engines:      []model.EngineSpec{{Name: "sandbox"}},
	})
	require.NoError(t, err)

	router := newRouter(env)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/monitors/"+mon.ID+"/run", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var runs []*model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, mon.ID, runs[0].MonitorID)
}
