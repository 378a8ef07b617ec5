package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/store"
)

// Executor runs one run's orchestration to completion.
type Executor interface {
	Execute(ctx context.Context, runID string) error
}

// DispatchConfig sizes the worker pool and its safety nets.
type DispatchConfig struct {
	Workers     int
	QueueSize   int
	HardTimeout time.Duration
	// EngineRate and EngineBurst bound how fast workers may hit any single
	// engine, across all concurrent runs.
	EngineRate  float64
	EngineBurst int
}

// Dispatcher executes each run's orchestration on its own worker. A hard
// wall-clock limit per task is the coarse safety net above the runner's
// per-cycle timeout.
type Dispatcher struct {
	exec  Executor
	store store.Store
	cfg   DispatchConfig
	queue chan string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewDispatcher(exec Executor, st store.Store, cfg DispatchConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.EngineBurst <= 0 {
		cfg.EngineBurst = 1
	}
	return &Dispatcher{
		exec:     exec,
		store:    st,
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case runID := <-d.queue:
					d.process(ctx, runID)
				}
			}
		})
	}
}

// Stop cancels the workers and waits for in-flight runs to unwind.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.group != nil {
		_ = d.group.Wait()
	}
}

// Enqueue hands a queued run to the worker pool without blocking.
func (d *Dispatcher) Enqueue(runID string) error {
	select {
	case d.queue <- runID:
		return nil
	default:
		return eris.Errorf("dispatch: queue full, dropping run %s", runID)
	}
}

// CreateAndEnqueue creates a run row, records its queued event, and hands it
// to the worker pool. This is the single entry point ad-hoc requests and the
// scheduler share.
func (d *Dispatcher) CreateAndEnqueue(ctx context.Context, run model.Run) (*model.Run, error) {
	created, err := d.store.CreateRun(ctx, run)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: create run")
	}
	if _, err := d.store.AppendEvent(ctx, created.ID, model.StepQueued, model.EventOK, ""); err != nil {
		zap.L().Warn("dispatch: append queued event", zap.String("run_id", created.ID), zap.Error(err))
	}
	if err := d.Enqueue(created.ID); err != nil {
		return created, err
	}
	return created, nil
}

func (d *Dispatcher) process(ctx context.Context, runID string) {
	log := zap.L().With(zap.String("run_id", runID))

	if err := d.waitEngineSlot(ctx, runID); err != nil {
		log.Warn("dispatch: rate limit wait aborted", zap.Error(err))
		return
	}

	hctx := ctx
	var cancel context.CancelFunc
	if d.cfg.HardTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, d.cfg.HardTimeout)
		defer cancel()
	}

	err := d.exec.Execute(hctx, runID)
	if err == nil {
		log.Info("dispatch: run completed")
		return
	}

	if hctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// Distinct from a per-cycle fetch timeout: the whole task blew its
		// hard budget.
		bg := context.WithoutCancel(ctx)
		if _, evErr := d.store.AppendEvent(bg, runID, model.StepError, model.EventTimeout, "hard time limit exceeded"); evErr != nil {
			log.Error("dispatch: append hard timeout event", zap.Error(evErr))
		}
		log.Warn("dispatch: run hit hard time limit", zap.Duration("limit", d.cfg.HardTimeout))
		return
	}
	log.Warn("dispatch: run failed", zap.Error(err))
}

// waitEngineSlot throttles per engine name so rate-limited upstreams see a
// bounded request rate regardless of worker count.
func (d *Dispatcher) waitEngineSlot(ctx context.Context, runID string) error {
	if d.cfg.EngineRate <= 0 {
		return nil
	}
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil // Execute will surface the missing run
	}
	eng, err := d.store.GetEngine(ctx, run.EngineID)
	if err != nil {
		return nil
	}
	return d.limiter(eng.Name).Wait(ctx)
}

func (d *Dispatcher) limiter(engineName string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[engineName]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.cfg.EngineRate), d.cfg.EngineBurst)
		d.limiters[engineName] = l
	}
	return l
}
