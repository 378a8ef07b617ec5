package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/answerlens/answerlens/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// preparedStatements lists queries to prepare on each new connection for the
// hottest store operations (event appends dominate).
var preparedStatements = map[string]string{
	"insert_event": `INSERT INTO run_events (id, run_id, step, status, message, created_ns) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_run":      `SELECT ` + runColumns + ` FROM runs WHERE id = $1`,
	"list_events_after": `SELECT id, run_id, step, status, message, created_ns FROM run_events
		WHERE run_id = $1 AND created_ns > $2 ORDER BY created_ns ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns > 0 {
		pgxCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		pgxCfg.MinConns = minConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	prompt_version_id TEXT NOT NULL,
	engine_id         TEXT NOT NULL,
	monitor_id        TEXT,
	status            TEXT NOT NULL DEFAULT 'queued',
	cycles            INTEGER NOT NULL DEFAULT 1,
	delay_seconds     INTEGER NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ,
	finished_at       TIMESTAMPTZ,
	metrics           JSONB,
	amr_flag          BOOLEAN,
	dcr_flag          BOOLEAN,
	zcrs              DOUBLE PRECISION,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	step       TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT,
	created_ns BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	cycle      INTEGER NOT NULL,
	raw_url    TEXT,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS citations (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	domain     TEXT NOT NULL,
	url        TEXT,
	anchor     TEXT,
	position   TEXT,
	type       TEXT,
	is_ours    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS engines (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	device      TEXT NOT NULL DEFAULT '',
	config      JSONB,
	config_hash TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE(project_id, name, region, device, config_hash)
);

CREATE TABLE IF NOT EXISTS monitors (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	schedule_cron TEXT,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	template_ids  JSONB,
	engines       JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_versions (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	text       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS domains (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	domain     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_monitor ON runs(monitor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_evidence_run ON evidence(run_id, cycle);
CREATE INDEX IF NOT EXISTS idx_citations_run ON citations(run_id);
CREATE INDEX IF NOT EXISTS idx_domains_project ON domains(project_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusQueued
	run.CreatedAt = time.Now().UTC()
	if run.Cycles < 1 {
		run.Cycles = 1
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, prompt_version_id, engine_id, monitor_id, status, cycles, delay_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.ProjectID, run.PromptVersionID, run.EngineID, nullString(run.MonitorID),
		string(run.Status), run.Cycles, run.DelaySeconds, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	return scanRunPG(row)
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	var tag pgconn.CommandTag
	var err error
	switch {
	case status == model.RunStatusRunning:
		tag, err = s.pool.Exec(ctx,
			`UPDATE runs SET status = $1, started_at = $2 WHERE id = $3`, string(status), now, runID)
	case status.Terminal():
		tag, err = s.pool.Exec(ctx,
			`UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`, string(status), now, runID)
	default:
		tag, err = s.pool.Exec(ctx,
			`UPDATE runs SET status = $1 WHERE id = $2`, string(status), runID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunMetrics(ctx context.Context, runID string, metrics model.RunMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE runs SET metrics = $1 WHERE id = $2`, data, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run metrics %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunKPI(ctx context.Context, runID string, amr, dcr bool, zcrs float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET amr_flag = $1, dcr_flag = $2, zcrs = $3 WHERE id = $4`, amr, dcr, zcrs, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run kpi %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) LatestRunForMonitor(ctx context.Context, monitorID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE monitor_id = $1 ORDER BY created_at DESC LIMIT 1`, monitorID)
	run, err := scanRunPG(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return run, err
}

func (s *PostgresStore) AppendEvent(ctx context.Context, runID string, step model.EventStep, status model.EventStatus, message string) (*model.RunEvent, error) {
	ev := model.RunEvent{
		ID:        uuid.New().String(),
		RunID:     runID,
		Step:      step,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_events (id, run_id, step, status, message, created_ns) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.RunID, string(ev.Step), string(ev.Status), nullString(ev.Message), ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run event")
	}
	return &ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, step, status, message, created_ns FROM run_events WHERE run_id = $1 ORDER BY created_ns ASC`,
		runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run events")
	}
	return collectEvents(rows)
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, runID string, after time.Time) ([]model.RunEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, step, status, message, created_ns FROM run_events
		 WHERE run_id = $1 AND created_ns > $2 ORDER BY created_ns ASC`,
		runID, after.UnixNano())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run events after")
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]model.RunEvent, error) {
	defer rows.Close()
	var events []model.RunEvent
	for rows.Next() {
		var ev model.RunEvent
		var message *string
		var createdNs int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Step, &ev.Status, &message, &createdNs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run event")
		}
		if message != nil {
			ev.Message = *message
		}
		ev.CreatedAt = time.Unix(0, createdNs).UTC()
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate run events")
}

func (s *PostgresStore) CreateEvidence(ctx context.Context, ev model.Evidence) (*model.Evidence, error) {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal evidence payload")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO evidence (id, run_id, cycle, raw_url, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.RunID, ev.Cycle, nullString(ev.RawURL), payload, ev.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert evidence")
	}
	return &ev, nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, runID string) ([]model.Evidence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, cycle, raw_url, payload, created_at FROM evidence WHERE run_id = $1 ORDER BY cycle ASC`,
		runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var rawURL *string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Cycle, &rawURL, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		if rawURL != nil {
			ev.RawURL = *rawURL
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal evidence payload")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate evidence")
}

func (s *PostgresStore) CreateCitations(ctx context.Context, runID string, citations []model.Citation) error {
	if len(citations) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin citations tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, c := range citations {
		_, err := tx.Exec(ctx,
			`INSERT INTO citations (id, run_id, domain, url, anchor, position, type, is_ours, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New().String(), runID, c.Domain, nullString(c.URL), nullString(c.Anchor),
			nullString(c.Position), nullString(string(c.Type)), c.IsOurs, now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert citation")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit citations")
}

func (s *PostgresStore) ListCitations(ctx context.Context, runID string) ([]model.Citation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, domain, url, anchor, position, type, is_ours, created_at
		 FROM citations WHERE run_id = $1 ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list citations")
	}
	defer rows.Close()

	var out []model.Citation
	for rows.Next() {
		var c model.Citation
		var u, anchor, position, typ *string
		if err := rows.Scan(&c.ID, &c.RunID, &c.Domain, &u, &anchor, &position, &typ, &c.IsOurs, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan citation")
		}
		if u != nil {
			c.URL = *u
		}
		if anchor != nil {
			c.Anchor = *anchor
		}
		if position != nil {
			c.Position = *position
		}
		if typ != nil {
			c.Type = model.CitationType(*typ)
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate citations")
}

func (s *PostgresStore) ResolveEngine(ctx context.Context, projectID string, spec model.EngineSpec) (*model.Engine, error) {
	hash := model.HashConfig(spec.Config)

	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, region, device, config, config_hash, created_at
		 FROM engines WHERE project_id = $1 AND name = $2 AND region = $3 AND device = $4 AND config_hash = $5`,
		projectID, spec.Name, spec.Region, spec.Device, hash)
	engine, err := scanEnginePG(row)
	if err == nil {
		return engine, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, err
	}

	e := model.Engine{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		Name:       spec.Name,
		Region:     spec.Region,
		Device:     spec.Device,
		Config:     spec.Config,
		ConfigHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	config, err := json.Marshal(e.Config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal engine config")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO engines (id, project_id, name, region, device, config, config_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ProjectID, e.Name, e.Region, e.Device, config, e.ConfigHash, e.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert engine")
	}
	return &e, nil
}

func (s *PostgresStore) GetEngine(ctx context.Context, engineID string) (*model.Engine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, region, device, config, config_hash, created_at FROM engines WHERE id = $1`,
		engineID)
	return scanEnginePG(row)
}

func (s *PostgresStore) CreateMonitor(ctx context.Context, monitor model.Monitor) (*model.Monitor, error) {
	monitor.ID = uuid.New().String()
	monitor.CreatedAt = time.Now().UTC()

	templateIDs, err := json.Marshal(monitor.TemplateIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal template ids")
	}
	engines, err := json.Marshal(monitor.Engines)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal monitor engines")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO monitors (id, project_id, name, schedule_cron, active, template_ids, engines, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		monitor.ID, monitor.ProjectID, monitor.Name, nullString(monitor.ScheduleCron),
		monitor.Active, templateIDs, engines, monitor.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert monitor")
	}
	return &monitor, nil
}

func (s *PostgresStore) GetMonitor(ctx context.Context, monitorID string) (*model.Monitor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, schedule_cron, active, template_ids, engines, created_at
		 FROM monitors WHERE id = $1`, monitorID)
	return scanMonitorPG(row)
}

func (s *PostgresStore) ListActiveMonitors(ctx context.Context) ([]model.Monitor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, schedule_cron, active, template_ids, engines, created_at
		 FROM monitors WHERE active AND schedule_cron IS NOT NULL AND schedule_cron != ''`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active monitors")
	}
	defer rows.Close()

	var out []model.Monitor
	for rows.Next() {
		m, err := scanMonitorPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate monitors")
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, template model.PromptTemplate) (*model.PromptTemplate, error) {
	template.ID = uuid.New().String()
	template.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO templates (id, project_id, name, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		template.ID, template.ProjectID, template.Name, template.Text, template.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert template")
	}
	return &template, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (*model.PromptTemplate, error) {
	var t model.PromptTemplate
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, text, created_at FROM templates WHERE id = $1`, templateID).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.Text, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "template %s", templateID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get template")
	}
	return &t, nil
}

func (s *PostgresStore) CreatePromptVersion(ctx context.Context, projectID, text string) (*model.PromptVersion, error) {
	pv := model.PromptVersion{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Text:      text,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_versions (id, project_id, text, version, created_at) VALUES ($1, $2, $3, $4, $5)`,
		pv.ID, pv.ProjectID, pv.Text, pv.Version, pv.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert prompt version")
	}
	return &pv, nil
}

func (s *PostgresStore) GetPromptVersion(ctx context.Context, promptVersionID string) (*model.PromptVersion, error) {
	var pv model.PromptVersion
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, text, version, created_at FROM prompt_versions WHERE id = $1`, promptVersionID).
		Scan(&pv.ID, &pv.ProjectID, &pv.Text, &pv.Version, &pv.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "prompt version %s", promptVersionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get prompt version")
	}
	return &pv, nil
}

func (s *PostgresStore) AddDomain(ctx context.Context, projectID, domain string) (*model.Domain, error) {
	d := model.Domain{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Domain:    domain,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO domains (id, project_id, domain, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.ProjectID, d.Domain, d.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert domain")
	}
	return &d, nil
}

func (s *PostgresStore) ListDomains(ctx context.Context, projectID string) ([]model.Domain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, domain, created_at FROM domains WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list domains")
	}
	defer rows.Close()

	var out []model.Domain
	for rows.Next() {
		var d model.Domain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Domain, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan domain")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate domains")
}

func scanRunPG(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var monitorID *string
	var startedAt, finishedAt *time.Time
	var metrics []byte
	var amr, dcr *bool
	var zcrs *float64

	err := row.Scan(&r.ID, &r.ProjectID, &r.PromptVersionID, &r.EngineID, &monitorID, &r.Status,
		&r.Cycles, &r.DelaySeconds, &startedAt, &finishedAt, &metrics, &amr, &dcr, &zcrs, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if monitorID != nil {
		r.MonitorID = *monitorID
	}
	r.StartedAt = startedAt
	r.FinishedAt = finishedAt
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run metrics")
		}
	}
	r.Metrics.AMRFlag = amr
	r.Metrics.DCRFlag = dcr
	r.Metrics.ZCRS = zcrs
	return &r, nil
}

func scanEnginePG(row pgx.Row) (*model.Engine, error) {
	var e model.Engine
	var config []byte
	err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Region, &e.Device, &config, &e.ConfigHash, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "engine")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan engine")
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &e.Config); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal engine config")
		}
	}
	return &e, nil
}

func scanMonitorPG(row pgx.Row) (*model.Monitor, error) {
	var m model.Monitor
	var cron *string
	var templateIDs, engines []byte
	err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &cron, &m.Active, &templateIDs, &engines, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "monitor")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan monitor")
	}
	if cron != nil {
		m.ScheduleCron = *cron
	}
	if len(templateIDs) > 0 {
		if err := json.Unmarshal(templateIDs, &m.TemplateIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal template ids")
		}
	}
	if len(engines) > 0 {
		if err := json.Unmarshal(engines, &m.Engines); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal monitor engines")
		}
	}
	return &m, nil
}
