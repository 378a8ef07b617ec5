package store

import (
	"context"
	"time"

	"github.com/answerlens/answerlens/internal/model"
)

// Store defines the persistence interface for the run execution pipeline.
//
// Write discipline: the run row and its events are appended/updated only by
// the orchestrator (and the KPI scorer acting on its behalf); stream readers
// never write; the scheduler only creates new rows. Evidence, citations and
// events are immutable once written.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// UpdateRunStatus transitions a run; moving to running stamps
	// started_at, moving to a terminal status stamps finished_at.
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunMetrics(ctx context.Context, runID string, metrics model.RunMetrics) error
	UpdateRunKPI(ctx context.Context, runID string, amr, dcr bool, zcrs float64) error
	// LatestRunForMonitor returns the most recently started run spawned by a
	// monitor, or nil when the monitor has never run.
	LatestRunForMonitor(ctx context.Context, monitorID string) (*model.Run, error)

	// Run events (append-only log)
	AppendEvent(ctx context.Context, runID string, step model.EventStep, status model.EventStatus, message string) (*model.RunEvent, error)
	ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error)
	ListEventsAfter(ctx context.Context, runID string, after time.Time) ([]model.RunEvent, error)

	// Evidence
	CreateEvidence(ctx context.Context, ev model.Evidence) (*model.Evidence, error)
	ListEvidence(ctx context.Context, runID string) ([]model.Evidence, error)

	// Citations
	CreateCitations(ctx context.Context, runID string, citations []model.Citation) error
	ListCitations(ctx context.Context, runID string) ([]model.Citation, error)

	// Engines (immutable versioned configs keyed by project/name/region/device/config hash)
	ResolveEngine(ctx context.Context, projectID string, spec model.EngineSpec) (*model.Engine, error)
	GetEngine(ctx context.Context, engineID string) (*model.Engine, error)

	// Monitors and templates
	CreateMonitor(ctx context.Context, monitor model.Monitor) (*model.Monitor, error)
	GetMonitor(ctx context.Context, monitorID string) (*model.Monitor, error)
	ListActiveMonitors(ctx context.Context) ([]model.Monitor, error)
	CreateTemplate(ctx context.Context, template model.PromptTemplate) (*model.PromptTemplate, error)
	GetTemplate(ctx context.Context, templateID string) (*model.PromptTemplate, error)

	// Prompt snapshots
	CreatePromptVersion(ctx context.Context, projectID, text string) (*model.PromptVersion, error)
	GetPromptVersion(ctx context.Context, promptVersionID string) (*model.PromptVersion, error)

	// Project domains
	AddDomain(ctx context.Context, projectID, domain string) (*model.Domain, error)
	ListDomains(ctx context.Context, projectID string) ([]model.Domain, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
