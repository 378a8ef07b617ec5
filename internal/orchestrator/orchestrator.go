// Package orchestrator drives run execution: N cycles of
// fetch -> persist -> extract, the append-only event log, metric
// finalization, and the worker pool runs are dispatched on.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/cost"
	"github.com/answerlens/answerlens/internal/engine"
	"github.com/answerlens/answerlens/internal/kpi"
	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/normalize"
	"github.com/answerlens/answerlens/internal/runner"
	"github.com/answerlens/answerlens/internal/store"
)

const fallbackCycleTimeout = 120 * time.Second

// errAlreadyTerminal marks a dispatch against a run that already finished.
// Terminal runs are immutable: the refusal must not touch their status or
// event log.
var errAlreadyTerminal = eris.New("orchestrator: run already terminal")

// PipelineRunner executes one adapter pipeline under a timeout; it reports
// runner.ErrTimeout when the budget elapses.
type PipelineRunner interface {
	Run(ctx context.Context, engineName string, in engine.FetchInput, timeout time.Duration) (*runner.Result, error)
}

// Orchestrator owns the run state machine. A run row and its events are
// written only from here (and from the KPI scorer on its behalf) while the
// run is live.
type Orchestrator struct {
	store          store.Store
	runner         PipelineRunner
	scorer         *kpi.Scorer
	costs          *cost.Calculator
	defaultTimeout time.Duration
}

func New(st store.Store, r PipelineRunner, scorer *kpi.Scorer, costs *cost.Calculator, defaultTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:          st,
		runner:         r,
		scorer:         scorer,
		costs:          costs,
		defaultTimeout: defaultTimeout,
	}
}

// Execute runs the full state machine for one queued run:
// queued -> running -> completed or failed. Any failure not already handled
// as a cycle timeout is recorded once as an error event here.
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	err := o.execute(ctx, runID)
	if err == nil {
		return nil
	}
	if eris.Is(err, errAlreadyTerminal) {
		// Refusing a duplicate dispatch is not a run failure.
		return err
	}

	// Bookkeeping must survive the cancellation that caused the failure.
	bg := context.WithoutCancel(ctx)
	if !eris.Is(err, runner.ErrTimeout) && ctx.Err() == nil {
		if _, evErr := o.store.AppendEvent(bg, runID, model.StepError, model.EventFail, err.Error()); evErr != nil {
			zap.L().Error("orchestrator: append error event", zap.String("run_id", runID), zap.Error(evErr))
		}
	}
	if stErr := o.store.UpdateRunStatus(bg, runID, model.RunStatusFailed); stErr != nil {
		zap.L().Error("orchestrator: mark run failed", zap.String("run_id", runID), zap.Error(stErr))
	}
	return err
}

func (o *Orchestrator) execute(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: load run %s", runID)
	}
	if run.Status.Terminal() {
		return eris.Wrapf(errAlreadyTerminal, "run %s already %s", runID, run.Status)
	}

	eng, err := o.store.GetEngine(ctx, run.EngineID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: load engine for run %s", runID)
	}
	pv, err := o.store.GetPromptVersion(ctx, run.PromptVersionID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: load prompt for run %s", runID)
	}
	ownDomains, err := o.loadOwnDomains(ctx, run.ProjectID)
	if err != nil {
		return err
	}

	if err := o.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
		return eris.Wrapf(err, "orchestrator: mark run running %s", runID)
	}

	timeout := o.cycleTimeout(eng.Config)
	o.event(ctx, runID, model.StepOpts, model.EventOK, fmt.Sprintf(
		"engine=%s cycles=%d delay=%ds timeout=%s web_search=%t",
		eng.Name, run.Cycles, run.DelaySeconds, timeout,
		engine.EffectiveWebSearch(eng.Name, eng.Config)))

	input := fetchInput(eng, pv.Text)

	var allCitations []model.Citation
	var last *runner.Result
	var lastLatency time.Duration

	for cycle := 1; cycle <= run.Cycles; cycle++ {
		if cycle > 1 && run.DelaySeconds > 0 {
			o.event(ctx, runID, model.StepDelay, model.EventStarted, fmt.Sprintf("%ds", run.DelaySeconds))
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "orchestrator: cancelled during delay")
			case <-time.After(time.Duration(run.DelaySeconds) * time.Second):
			}
			o.event(ctx, runID, model.StepDelay, model.EventOK, "")
		}

		o.event(ctx, runID, model.StepFetch, model.EventStarted, fmt.Sprintf("cycle %d/%d", cycle, run.Cycles))
		start := time.Now()
		result, err := o.runner.Run(ctx, eng.Name, input, timeout)
		elapsed := time.Since(start)

		if eris.Is(err, runner.ErrTimeout) {
			// Remaining cycles are skipped; the run fails as a whole.
			o.event(ctx, runID, model.StepFetch, model.EventTimeout, fmt.Sprintf("cycle %d after %s", cycle, timeout))
			return eris.Wrapf(err, "orchestrator: cycle %d", cycle)
		}
		if err != nil {
			o.event(ctx, runID, model.StepFetch, model.EventFail, err.Error())
			return eris.Wrapf(err, "orchestrator: cycle %d fetch", cycle)
		}
		o.event(ctx, runID, model.StepFetch, model.EventOK, fmt.Sprintf("%dms", elapsed.Milliseconds()))

		o.event(ctx, runID, model.StepChunk, model.EventOK, answerSnippet(result.Answer.Text))

		o.event(ctx, runID, model.StepPersist, model.EventStarted, "")
		_, err = o.store.CreateEvidence(ctx, model.Evidence{
			RunID:  runID,
			Cycle:  cycle,
			RawURL: result.Raw.URL,
			Payload: map[string]any{
				"raw": result.Raw.Payload,
				"normalized": map[string]any{
					"text":  result.Answer.Text,
					"links": result.Answer.Links,
					"meta":  result.Answer.Meta,
				},
			},
		})
		if err != nil {
			// Evidence is the cycle's audit record; losing it fails the run.
			o.event(ctx, runID, model.StepPersist, model.EventFail, err.Error())
			return eris.Wrapf(err, "orchestrator: persist evidence cycle %d", cycle)
		}
		o.event(ctx, runID, model.StepPersist, model.EventOK, "")

		o.event(ctx, runID, model.StepExtract, model.EventStarted, "")
		citations := normalize.Dedupe(result.Citations)
		for i := range citations {
			citations[i].IsOurs = citations[i].IsOurs || ownDomains[citations[i].Domain]
		}
		if err := o.store.CreateCitations(ctx, runID, citations); err != nil {
			return eris.Wrapf(err, "orchestrator: persist citations cycle %d", cycle)
		}
		o.event(ctx, runID, model.StepExtract, model.EventOK, fmt.Sprintf("%d citations", len(citations)))

		allCitations = append(allCitations, citations...)
		last = result
		lastLatency = elapsed
	}

	if err := o.finalize(ctx, run, eng, last, lastLatency, allCitations); err != nil {
		return err
	}
	if err := o.store.UpdateRunStatus(ctx, runID, model.RunStatusCompleted); err != nil {
		return eris.Wrapf(err, "orchestrator: mark run completed %s", runID)
	}
	o.event(ctx, runID, model.StepCompleted, model.EventOK, "")
	return nil
}

// finalize writes the run's aggregate metrics: token/model/cost from the
// last cycle's usage, citation counts from every cycle, then KPIs.
func (o *Orchestrator) finalize(ctx context.Context, run *model.Run, eng *model.Engine, last *runner.Result, latency time.Duration, citations []model.Citation) error {
	metrics := model.RunMetrics{}

	var usage map[string]any
	if last != nil {
		if u, ok := last.Answer.Meta["usage"].(map[string]any); ok {
			usage = u
		}
		if usage == nil {
			usage = cost.EstimateUsageFromText(last.Answer.Text)
		}
		ms := latency.Milliseconds()
		metrics.LatencyMs = &ms
	}
	metrics.ModelName = modelName(eng, last)

	in, out, total := cost.ExtractTokens(usage)
	metrics.TokensInput = in
	metrics.TokensOutput = out
	metrics.TokensTotal = total
	metrics.CostUSD = o.costs.ComputeCostUSD(eng.Name, metrics.ModelName, eng.Config, usage)

	deduped := normalize.Dedupe(citations)
	metrics.CitationsCount = len(deduped)
	domains := make(map[string]bool)
	for _, c := range deduped {
		domains[c.Domain] = true
		if c.IsOurs {
			metrics.OurCitationsCount++
		}
	}
	metrics.UniqueDomainsCount = len(domains)

	if err := o.store.UpdateRunMetrics(ctx, run.ID, metrics); err != nil {
		return eris.Wrapf(err, "orchestrator: persist metrics %s", run.ID)
	}
	if _, err := o.scorer.ComputeReport(ctx, run.ID); err != nil {
		return eris.Wrapf(err, "orchestrator: score run %s", run.ID)
	}
	return nil
}

// modelName resolves the billed model: explicit engine config first, then
// whatever the provider reported, then the engine name itself so the pricing
// lookup always has a key.
func modelName(eng *model.Engine, last *runner.Result) string {
	if m, ok := eng.Config["model"].(string); ok && m != "" {
		return m
	}
	if last != nil {
		if m, ok := last.Answer.Meta["model"].(string); ok && m != "" {
			return m
		}
	}
	return eng.Name
}

func (o *Orchestrator) loadOwnDomains(ctx context.Context, projectID string) (map[string]bool, error) {
	domains, err := o.store.ListDomains(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: load domains for %s", projectID)
	}
	own := make(map[string]bool, len(domains))
	for _, d := range domains {
		own[normalize.Domain(d.Domain)] = true
	}
	return own, nil
}

// cycleTimeout resolves the per-cycle budget: engine config override, then
// the configured default, then a fixed fallback.
func (o *Orchestrator) cycleTimeout(config map[string]any) time.Duration {
	if v, ok := config["timeout_seconds"]; ok {
		switch n := v.(type) {
		case int:
			return time.Duration(n) * time.Second
		case int64:
			return time.Duration(n) * time.Second
		case float64:
			return time.Duration(n) * time.Second
		}
	}
	if o.defaultTimeout > 0 {
		return o.defaultTimeout
	}
	return fallbackCycleTimeout
}

// answerSnippet bounds the chunk event's copy of the answer so the event log
// stays readable for very long answers.
func answerSnippet(text string) string {
	const maxChunk = 4000
	if len(text) <= maxChunk {
		return text
	}
	return text[:maxChunk]
}

func fetchInput(eng *model.Engine, query string) engine.FetchInput {
	in := engine.FetchInput{
		Query:  query,
		Region: eng.Region,
		Device: eng.Device,
		Config: eng.Config,
	}
	if lang, ok := eng.Config["language"].(string); ok {
		in.Language = engine.CanonicalLanguage(lang)
	}
	return in
}

// event appends one run event; append failures are logged, not fatal, so a
// flaky event write cannot kill an otherwise healthy run.
func (o *Orchestrator) event(ctx context.Context, runID string, step model.EventStep, status model.EventStatus, message string) {
	if _, err := o.store.AppendEvent(ctx, runID, step, status, message); err != nil {
		zap.L().Warn("orchestrator: append event",
			zap.String("run_id", runID),
			zap.String("step", string(step)),
			zap.Error(err),
		)
	}
}
