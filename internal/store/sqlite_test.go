package store

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createTestRun(t *testing.T, s *SQLiteStore) *model.Run {
	t.Helper()
	run, err := s.CreateRun(context.Background(), model.Run{
		ProjectID:       "proj-1",
		PromptVersionID: "pv-1",
		EngineID:        "eng-1",
		Cycles:          2,
		DelaySeconds:    5,
	})
	require.NoError(t, err)
	return run
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, 2, got.Cycles)
	assert.Equal(t, 5, got.DelaySeconds)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusCompleted))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestUpdateRunStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusRunning)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestUpdateRunMetricsAndKPI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, s)

	in, out := 100, 40
	cost := 0.0021
	require.NoError(t, s.UpdateRunMetrics(ctx, run.ID, model.RunMetrics{
		TokensInput:    &in,
		TokensOutput:   &out,
		CostUSD:        &cost,
		CitationsCount: 3,
		ModelName:      "sonar-pro",
	}))
	require.NoError(t, s.UpdateRunKPI(ctx, run.ID, true, false, 50))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metrics.TokensInput)
	assert.Equal(t, 100, *got.Metrics.TokensInput)
	assert.Equal(t, 3, got.Metrics.CitationsCount)
	assert.Equal(t, "sonar-pro", got.Metrics.ModelName)
	require.NotNil(t, got.Metrics.AMRFlag)
	assert.True(t, *got.Metrics.AMRFlag)
	require.NotNil(t, got.Metrics.DCRFlag)
	assert.False(t, *got.Metrics.DCRFlag)
	require.NotNil(t, got.Metrics.ZCRS)
	assert.Equal(t, 50.0, *got.Metrics.ZCRS)
}

func TestEventsAppendOnlyOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, s)

	steps := []model.EventStep{model.StepQueued, model.StepOpts, model.StepFetch, model.StepCompleted}
	for _, step := range steps {
		_, err := s.AppendEvent(ctx, run.ID, step, model.EventOK, "")
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, len(steps))
	for i, ev := range events {
		assert.Equal(t, steps[i], ev.Step)
		if i > 0 {
			assert.True(t, ev.CreatedAt.After(events[i-1].CreatedAt) || ev.CreatedAt.Equal(events[i-1].CreatedAt))
		}
	}
}

func TestListEventsAfterWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, s)

	first, err := s.AppendEvent(ctx, run.ID, model.StepQueued, model.EventOK, "")
	require.NoError(t, err)
	second, err := s.AppendEvent(ctx, run.ID, model.StepFetch, model.EventStarted, "")
	require.NoError(t, err)

	// Strictly newer than the first event: only the second comes back.
	events, err := s.ListEventsAfter(ctx, run.ID, first.CreatedAt)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StepFetch, events[0].Step)

	events, err = s.ListEventsAfter(ctx, run.ID, second.CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEvidenceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, s)

	_, err := s.CreateEvidence(ctx, model.Evidence{
		RunID:   run.ID,
		Cycle:   1,
		RawURL:  "https://api.example.com/answer",
		Payload: map[string]any{"answer": "pix é um sistema de pagamentos", "citations": []any{"https://bcb.gov.br"}},
	})
	require.NoError(t, err)
	_, err = s.CreateEvidence(ctx, model.Evidence{RunID: run.ID, Cycle: 2, Payload: map[string]any{"answer": "x"}})
	require.NoError(t, err)

	evidence, err := s.ListEvidence(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, 1, evidence[0].Cycle)
	assert.Equal(t, "pix é um sistema de pagamentos", evidence[0].Payload["answer"])
	assert.Empty(t, evidence[1].RawURL)
}

func TestCitationsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, s)

	require.NoError(t, s.CreateCitations(ctx, run.ID, []model.Citation{
		{Domain: "bcb.gov.br", URL: "https://bcb.gov.br/pix", Type: model.CitationLink, IsOurs: true},
		{Domain: "wikipedia.org", URL: "https://wikipedia.org/wiki/Pix", Type: model.CitationMention},
	}))
	require.NoError(t, s.CreateCitations(ctx, run.ID, nil))

	citations, err := s.ListCitations(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, citations, 2)
	assert.Equal(t, "bcb.gov.br", citations[0].Domain)
	assert.True(t, citations[0].IsOurs)
	assert.Equal(t, model.CitationMention, citations[1].Type)
	assert.False(t, citations[1].IsOurs)
}

func TestResolveEngineReusesAndVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	spec := model.EngineSpec{
		Name:   "perplexity",
		Region: "br",
		Device: "desktop",
		Config: map[string]any{"model": "sonar-pro"},
	}
	first, err := s.ResolveEngine(ctx, "proj-1", spec)
	require.NoError(t, err)

	// Same spec resolves to the same row.
	again, err := s.ResolveEngine(ctx, "proj-1", spec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// A config change produces a new immutable version.
	spec.Config = map[string]any{"model": "sonar-pro", "temperature": 0.2}
	changed, err := s.ResolveEngine(ctx, "proj-1", spec)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, changed.ID)
	assert.NotEqual(t, first.ConfigHash, changed.ConfigHash)

	// The original row is untouched.
	got, err := s.GetEngine(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "sonar-pro", got.Config["model"])
	assert.NotContains(t, got.Config, "temperature")
}

func TestMonitorsAndTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tmpl, err := s.CreateTemplate(ctx, model.PromptTemplate{
		ProjectID: "proj-1",
		Name:      "pix-basics",
		Text:      "o que é {topic}",
	})
	require.NoError(t, err)

	monitor, err := s.CreateMonitor(ctx, model.Monitor{
		ProjectID:    "proj-1",
		Name:         "daily-pix",
		ScheduleCron: "0 6 * * *",
		Active:       true,
		TemplateIDs:  []string{tmpl.ID},
		Engines:      []model.EngineSpec{{Name: "perplexity", Config: map[string]any{"model": "sonar-pro"}}},
	})
	require.NoError(t, err)

	// Inactive and unscheduled monitors are excluded from the scheduler's view.
	_, err = s.CreateMonitor(ctx, model.Monitor{ProjectID: "proj-1", Name: "paused", ScheduleCron: "0 6 * * *", Active: false})
	require.NoError(t, err)
	_, err = s.CreateMonitor(ctx, model.Monitor{ProjectID: "proj-1", Name: "manual", Active: true})
	require.NoError(t, err)

	got, err := s.GetMonitor(ctx, monitor.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{tmpl.ID}, got.TemplateIDs)
	require.Len(t, got.Engines, 1)
	assert.Equal(t, "perplexity", got.Engines[0].Name)

	active, err := s.ListActiveMonitors(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "daily-pix", active[0].Name)

	gotTmpl, err := s.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "o que é {topic}", gotTmpl.Text)
}

func TestLatestRunForMonitor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestRunForMonitor(ctx, "mon-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = s.CreateRun(ctx, model.Run{ProjectID: "p", PromptVersionID: "pv", EngineID: "e", MonitorID: "mon-1"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateRun(ctx, model.Run{ProjectID: "p", PromptVersionID: "pv", EngineID: "e", MonitorID: "mon-1"})
	require.NoError(t, err)

	latest, err = s.LatestRunForMonitor(ctx, "mon-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestPromptVersionsAndDomains(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pv, err := s.CreatePromptVersion(ctx, "proj-1", "o que é pix")
	require.NoError(t, err)
	got, err := s.GetPromptVersion(ctx, pv.ID)
	require.NoError(t, err)
	assert.Equal(t, "o que é pix", got.Text)

	_, err = s.AddDomain(ctx, "proj-1", "bcb.gov.br")
	require.NoError(t, err)
	_, err = s.AddDomain(ctx, "proj-2", "other.com")
	require.NoError(t, err)

	domains, err := s.ListDomains(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "bcb.gov.br", domains[0].Domain)
}
