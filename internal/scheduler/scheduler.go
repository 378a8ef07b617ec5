// Package scheduler turns active monitors into runs on their cron cadence.
// It only ever creates new rows: engines are resolved-or-created, prompts are
// snapshotted, runs are enqueued. Nothing existing is mutated.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/store"
)

const defaultTick = 60 * time.Second

// RunCreator is the dispatch entry point the scheduler shares with ad-hoc
// requests.
type RunCreator interface {
	CreateAndEnqueue(ctx context.Context, run model.Run) (*model.Run, error)
}

// Scheduler is a single background loop with an explicit lifecycle: Start
// launches the tick goroutine, Stop blocks until it has exited.
type Scheduler struct {
	store   store.Store
	creator RunCreator
	tick    time.Duration
	parser  cron.Parser

	cancel context.CancelFunc
	done   chan struct{}
}

func New(st store.Store, creator RunCreator, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Scheduler{
		store:   st,
		creator: creator,
		tick:    tick,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx, time.Now().UTC())
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Tick evaluates every active monitor against now and fans out the due ones.
// Per-monitor errors are logged and skipped so one broken cron expression
// cannot stall the rest.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	monitors, err := s.store.ListActiveMonitors(ctx)
	if err != nil {
		zap.L().Error("scheduler: list monitors", zap.Error(err))
		return
	}
	for _, mon := range monitors {
		due, err := s.isDue(ctx, mon, now)
		if err != nil {
			zap.L().Warn("scheduler: dueness check",
				zap.String("monitor_id", mon.ID), zap.Error(err))
			continue
		}
		if !due {
			continue
		}
		zap.L().Info("scheduler: monitor due",
			zap.String("monitor_id", mon.ID), zap.String("cron", mon.ScheduleCron))
		s.fanOut(ctx, mon)
	}
}

// isDue decides whether a monitor should fire at now. With no prior run the
// cron's most recent instant must fall within the last tick interval; with a
// prior run the next instant strictly after that run's start must have
// arrived. Best effort, at-least-once.
func (s *Scheduler) isDue(ctx context.Context, mon model.Monitor, now time.Time) (bool, error) {
	sched, err := s.parser.Parse(mon.ScheduleCron)
	if err != nil {
		return false, eris.Wrapf(err, "scheduler: parse cron %q", mon.ScheduleCron)
	}

	last, err := s.store.LatestRunForMonitor(ctx, mon.ID)
	if err != nil {
		return false, eris.Wrapf(err, "scheduler: latest run for monitor %s", mon.ID)
	}

	if last == nil {
		// Due iff a scheduled instant landed inside (now-tick, now].
		next := sched.Next(now.Add(-s.tick))
		return !next.After(now), nil
	}

	anchor := last.CreatedAt
	if last.StartedAt != nil {
		anchor = *last.StartedAt
	}
	return !sched.Next(anchor).After(now), nil
}

// RunNow triggers a monitor's full fan-out immediately, outside the cron
// loop. Returns the runs it managed to create.
func (s *Scheduler) RunNow(ctx context.Context, monitorID string) ([]*model.Run, error) {
	mon, err := s.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load monitor %s", monitorID)
	}
	runs := s.fanOut(ctx, *mon)
	if len(runs) == 0 && (len(mon.TemplateIDs) > 0 && len(mon.Engines) > 0) {
		return nil, eris.Errorf("scheduler: monitor %s produced no runs", monitorID)
	}
	return runs, nil
}

// fanOut creates one run per (template, engine) pair. A failing pair is
// logged and skipped; the rest of the grid still fires.
func (s *Scheduler) fanOut(ctx context.Context, mon model.Monitor) []*model.Run {
	var runs []*model.Run
	for _, templateID := range mon.TemplateIDs {
		tpl, err := s.store.GetTemplate(ctx, templateID)
		if err != nil {
			zap.L().Warn("scheduler: load template",
				zap.String("monitor_id", mon.ID), zap.String("template_id", templateID), zap.Error(err))
			continue
		}
		for _, spec := range mon.Engines {
			run, err := s.createRun(ctx, mon, tpl, spec)
			if err != nil {
				zap.L().Warn("scheduler: fan-out target",
					zap.String("monitor_id", mon.ID),
					zap.String("template_id", templateID),
					zap.String("engine", spec.Name),
					zap.Error(err))
				continue
			}
			runs = append(runs, run)
		}
	}
	return runs
}

func (s *Scheduler) createRun(ctx context.Context, mon model.Monitor, tpl *model.PromptTemplate, spec model.EngineSpec) (*model.Run, error) {
	eng, err := s.store.ResolveEngine(ctx, mon.ProjectID, spec)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: resolve engine")
	}
	pv, err := s.store.CreatePromptVersion(ctx, mon.ProjectID, tpl.Text)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: snapshot prompt")
	}
	run, err := s.creator.CreateAndEnqueue(ctx, model.Run{
		ProjectID:       mon.ProjectID,
		PromptVersionID: pv.ID,
		EngineID:        eng.ID,
		MonitorID:       mon.ID,
		Cycles:          1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: enqueue run")
	}
	return run, nil
}
