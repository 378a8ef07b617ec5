package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/cost"
	"github.com/answerlens/answerlens/internal/engine"
	"github.com/answerlens/answerlens/internal/kpi"
	"github.com/answerlens/answerlens/internal/orchestrator"
	"github.com/answerlens/answerlens/internal/runner"
	"github.com/answerlens/answerlens/internal/scheduler"
	"github.com/answerlens/answerlens/internal/store"
)

// appEnv holds the wired pipeline: store, runner, orchestrator, dispatcher,
// scheduler, streamer. Callers should defer env.Close().
type appEnv struct {
	Store        store.Store
	Runner       *runner.Runner
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *orchestrator.Dispatcher
	Scheduler    *scheduler.Scheduler
	Streamer     *orchestrator.Streamer
	Scorer       *kpi.Scorer
	Costs        *cost.Calculator
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "answerlens.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func engineDeps() engine.Deps {
	return engine.Deps{
		SerpAPIKey:       cfg.SerpAPI.Key,
		PerplexityAPIKey: cfg.Perplexity.Key,
		AnthropicAPIKey:  cfg.Anthropic.Key,
	}
}

// initEnv sets up the store and every pipeline component. The dispatcher and
// scheduler are built but not started; serve owns their lifecycle.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	costs := cost.NewCalculator()
	if cfg.Pricing.OverridesPath != "" {
		if err := costs.LoadOverrides(cfg.Pricing.OverridesPath); err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("pricing overrides loaded", zap.String("path", cfg.Pricing.OverridesPath))
	}

	scorer := kpi.NewScorer(st, kpi.Weights{
		Link:        cfg.KPI.LinkWeight,
		PerCitation: cfg.KPI.MentionWeight,
	})

	r := runner.New(engine.NewFactory(engineDeps()))
	orch := orchestrator.New(st, r, scorer, costs,
		time.Duration(cfg.Runner.DefaultTimeoutSecs)*time.Second)

	disp := orchestrator.NewDispatcher(orch, st, orchestrator.DispatchConfig{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		HardTimeout: time.Duration(cfg.Dispatch.HardTimeoutSecs) * time.Second,
		EngineRate:  cfg.Dispatch.EngineRatePerSec,
		EngineBurst: cfg.Dispatch.EngineRateBurst,
	})

	sched := scheduler.New(st, disp, time.Duration(cfg.Scheduler.TickSecs)*time.Second)
	streamer := orchestrator.NewStreamer(st, time.Duration(cfg.Stream.PollIntervalMs)*time.Millisecond)

	return &appEnv{
		Store:        st,
		Runner:       r,
		Orchestrator: orch,
		Dispatcher:   disp,
		Scheduler:    sched,
		Streamer:     streamer,
		Scorer:       scorer,
		Costs:        costs,
	}, nil
}
