package model

import "time"

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one execution of a prompt against an answer engine. It is created
// once, owned by the orchestrator while running, and never mutated after it
// reaches a terminal status.
type Run struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	PromptVersionID string     `json:"prompt_version_id"`
	EngineID        string     `json:"engine_id"`
	MonitorID       string     `json:"monitor_id,omitempty"`
	Status          RunStatus  `json:"status"`
	Cycles          int        `json:"cycles"`
	DelaySeconds    int        `json:"delay_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Metrics         RunMetrics `json:"metrics"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RunMetrics holds the aggregates the orchestrator writes at finalization,
// plus the KPI flags the scorer fills in.
type RunMetrics struct {
	TokensInput        *int     `json:"tokens_input,omitempty"`
	TokensOutput       *int     `json:"tokens_output,omitempty"`
	TokensTotal        *int     `json:"tokens_total,omitempty"`
	CostUSD            *float64 `json:"cost_usd,omitempty"`
	LatencyMs          *int64   `json:"latency_ms,omitempty"`
	CitationsCount     int      `json:"citations_count"`
	UniqueDomainsCount int      `json:"unique_domains_count"`
	OurCitationsCount  int      `json:"our_citations_count"`
	ModelName          string   `json:"model_name,omitempty"`
	ErrorCode          string   `json:"error_code,omitempty"`
	AMRFlag            *bool    `json:"amr_flag,omitempty"`
	DCRFlag            *bool    `json:"dcr_flag,omitempty"`
	ZCRS               *float64 `json:"zcrs,omitempty"`
}

// EventStep names the pipeline step an event belongs to.
type EventStep string

const (
	StepQueued    EventStep = "queued"
	StepOpts      EventStep = "opts"
	StepFetch     EventStep = "fetch"
	StepChunk     EventStep = "chunk"
	StepPersist   EventStep = "persist"
	StepExtract   EventStep = "extract"
	StepDelay     EventStep = "delay"
	StepCompleted EventStep = "completed"
	StepError     EventStep = "error"
)

// EventStatus qualifies a step event.
type EventStatus string

const (
	EventStarted EventStatus = "started"
	EventOK      EventStatus = "ok"
	EventFail    EventStatus = "fail"
	EventTimeout EventStatus = "timeout"
)

// RunEvent is one entry in a run's append-only event log. Events are totally
// ordered by creation time within a run and never updated or deleted.
type RunEvent struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Step      EventStep   `json:"step"`
	Status    EventStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Evidence is the stored raw+parsed payload of one cycle's engine call.
// Immutable once written.
type Evidence struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Cycle     int            `json:"cycle"`
	RawURL    string         `json:"raw_url,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
