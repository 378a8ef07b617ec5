package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/answerlens/answerlens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	prompt_version_id TEXT NOT NULL,
	engine_id         TEXT NOT NULL,
	monitor_id        TEXT,
	status            TEXT NOT NULL DEFAULT 'queued',
	cycles            INTEGER NOT NULL DEFAULT 1,
	delay_seconds     INTEGER NOT NULL DEFAULT 0,
	started_at        DATETIME,
	finished_at       DATETIME,
	metrics           TEXT,
	amr_flag          INTEGER,
	dcr_flag          INTEGER,
	zcrs              REAL,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	step       TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT,
	created_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	cycle      INTEGER NOT NULL,
	raw_url    TEXT,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS citations (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	domain     TEXT NOT NULL,
	url        TEXT,
	anchor     TEXT,
	position   TEXT,
	type       TEXT,
	is_ours    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS engines (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	device      TEXT NOT NULL DEFAULT '',
	config      TEXT,
	config_hash TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	UNIQUE(project_id, name, region, device, config_hash)
);

CREATE TABLE IF NOT EXISTS monitors (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	schedule_cron TEXT,
	active        INTEGER NOT NULL DEFAULT 1,
	template_ids  TEXT,
	engines       TEXT,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS templates (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_versions (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	text       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS domains (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	domain     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_monitor ON runs(monitor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_evidence_run ON evidence(run_id, cycle);
CREATE INDEX IF NOT EXISTS idx_citations_run ON citations(run_id);
CREATE INDEX IF NOT EXISTS idx_domains_project ON domains(project_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusQueued
	run.CreatedAt = time.Now().UTC()
	if run.Cycles < 1 {
		run.Cycles = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, prompt_version_id, engine_id, monitor_id, status, cycles, delay_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, run.PromptVersionID, run.EngineID, nullString(run.MonitorID),
		string(run.Status), run.Cycles, run.DelaySeconds, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch {
	case status == model.RunStatusRunning:
		res, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, started_at = ? WHERE id = ?`, string(status), now, runID)
	case status.Terminal():
		res, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`, string(status), now, runID)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ? WHERE id = ?`, string(status), runID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunMetrics(ctx context.Context, runID string, metrics model.RunMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET metrics = ? WHERE id = ?`, string(data), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run metrics %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunKPI(ctx context.Context, runID string, amr, dcr bool, zcrs float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET amr_flag = ?, dcr_flag = ?, zcrs = ? WHERE id = ?`,
		boolToInt(amr), boolToInt(dcr), zcrs, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run kpi %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) LatestRunForMonitor(ctx context.Context, monitorID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE monitor_id = ? ORDER BY created_at DESC LIMIT 1`, monitorID)
	run, err := scanRun(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, step model.EventStep, status model.EventStatus, message string) (*model.RunEvent, error) {
	ev := model.RunEvent{
		ID:        uuid.New().String(),
		RunID:     runID,
		Step:      step,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, step, status, message, created_ns) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, string(ev.Step), string(ev.Status), nullString(ev.Message), ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run event")
	}
	return &ev, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	return s.listEvents(ctx,
		`SELECT id, run_id, step, status, message, created_ns FROM run_events WHERE run_id = ? ORDER BY created_ns ASC`,
		runID)
}

func (s *SQLiteStore) ListEventsAfter(ctx context.Context, runID string, after time.Time) ([]model.RunEvent, error) {
	return s.listEvents(ctx,
		`SELECT id, run_id, step, status, message, created_ns FROM run_events WHERE run_id = ? AND created_ns > ? ORDER BY created_ns ASC`,
		runID, after.UnixNano())
}

func (s *SQLiteStore) listEvents(ctx context.Context, query string, args ...any) ([]model.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run events")
	}
	defer rows.Close()

	var events []model.RunEvent
	for rows.Next() {
		var ev model.RunEvent
		var message sql.NullString
		var createdNs int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Step, &ev.Status, &message, &createdNs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run event")
		}
		ev.Message = message.String
		ev.CreatedAt = time.Unix(0, createdNs).UTC()
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate run events")
}

func (s *SQLiteStore) CreateEvidence(ctx context.Context, ev model.Evidence) (*model.Evidence, error) {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal evidence payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence (id, run_id, cycle, raw_url, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Cycle, nullString(ev.RawURL), string(payload), ev.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert evidence")
	}
	return &ev, nil
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, runID string) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, cycle, raw_url, payload, created_at FROM evidence WHERE run_id = ? ORDER BY cycle ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var rawURL sql.NullString
		var payload string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Cycle, &rawURL, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		ev.RawURL = rawURL.String
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal evidence payload")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate evidence")
}

func (s *SQLiteStore) CreateCitations(ctx context.Context, runID string, citations []model.Citation) error {
	if len(citations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin citations tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, c := range citations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO citations (id, run_id, domain, url, anchor, position, type, is_ours, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, c.Domain, nullString(c.URL), nullString(c.Anchor),
			nullString(c.Position), nullString(string(c.Type)), boolToInt(c.IsOurs), now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert citation")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit citations")
}

func (s *SQLiteStore) ListCitations(ctx context.Context, runID string) ([]model.Citation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, domain, url, anchor, position, type, is_ours, created_at
		 FROM citations WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list citations")
	}
	defer rows.Close()

	var out []model.Citation
	for rows.Next() {
		var c model.Citation
		var u, anchor, position, typ sql.NullString
		var isOurs int
		if err := rows.Scan(&c.ID, &c.RunID, &c.Domain, &u, &anchor, &position, &typ, &isOurs, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan citation")
		}
		c.URL = u.String
		c.Anchor = anchor.String
		c.Position = position.String
		c.Type = model.CitationType(typ.String)
		c.IsOurs = isOurs != 0
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate citations")
}

func (s *SQLiteStore) ResolveEngine(ctx context.Context, projectID string, spec model.EngineSpec) (*model.Engine, error) {
	hash := model.HashConfig(spec.Config)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, region, device, config, config_hash, created_at
		 FROM engines WHERE project_id = ? AND name = ? AND region = ? AND device = ? AND config_hash = ?`,
		projectID, spec.Name, spec.Region, spec.Device, hash)
	engine, err := scanEngine(row)
	if err == nil {
		return engine, nil
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, err
	}

	// No engine with this exact config: create a new immutable row.
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
		return nil, eris.Wrap(err, "sqlite: marshal engine config")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO engines (id, project_id, name, region, device, config, config_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Name, e.Region, e.Device, string(config), e.ConfigHash, e.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert engine")
	}
	return &e, nil
}

func (s *SQLiteStore) GetEngine(ctx context.Context, engineID string) (*model.Engine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, region, device, config, config_hash, created_at FROM engines WHERE id = ?`,
		engineID)
	return scanEngine(row)
}

func (s *SQLiteStore) CreateMonitor(ctx context.Context, monitor model.Monitor) (*model.Monitor, error) {
	monitor.ID = uuid.New().String()
	monitor.CreatedAt = time.Now().UTC()

	templateIDs, err := json.Marshal(monitor.TemplateIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal template ids")
	}
	engines, err := json.Marshal(monitor.Engines)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal monitor engines")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitors (id, project_id, name, schedule_cron, active, template_ids, engines, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		monitor.ID, monitor.ProjectID, monitor.Name, nullString(monitor.ScheduleCron),
		boolToInt(monitor.Active), string(templateIDs), string(engines), monitor.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert monitor")
	}
	return &monitor, nil
}

func (s *SQLiteStore) GetMonitor(ctx context.Context, monitorID string) (*model.Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, schedule_cron, active, template_ids, engines, created_at
		 FROM monitors WHERE id = ?`, monitorID)
	return scanMonitor(row)
}

func (s *SQLiteStore) ListActiveMonitors(ctx context.Context) ([]model.Monitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, schedule_cron, active, template_ids, engines, created_at
		 FROM monitors WHERE active = 1 AND schedule_cron IS NOT NULL AND schedule_cron != ''`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active monitors")
	}
	defer rows.Close()

	var out []model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate monitors")
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, template model.PromptTemplate) (*model.PromptTemplate, error) {
	template.ID = uuid.New().String()
	template.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, project_id, name, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		template.ID, template.ProjectID, template.Name, template.Text, template.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert template")
	}
	return &template, nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, templateID string) (*model.PromptTemplate, error) {
	var t model.PromptTemplate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, text, created_at FROM templates WHERE id = ?`, templateID).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.Text, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "template %s", templateID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get template")
	}
	return &t, nil
}

func (s *SQLiteStore) CreatePromptVersion(ctx context.Context, projectID, text string) (*model.PromptVersion, error) {
	pv := model.PromptVersion{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Text:      text,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompt_versions (id, project_id, text, version, created_at) VALUES (?, ?, ?, ?, ?)`,
		pv.ID, pv.ProjectID, pv.Text, pv.Version, pv.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert prompt version")
	}
	return &pv, nil
}

func (s *SQLiteStore) GetPromptVersion(ctx context.Context, promptVersionID string) (*model.PromptVersion, error) {
	var pv model.PromptVersion
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, text, version, created_at FROM prompt_versions WHERE id = ?`, promptVersionID).
		Scan(&pv.ID, &pv.ProjectID, &pv.Text, &pv.Version, &pv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "prompt version %s", promptVersionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get prompt version")
	}
	return &pv, nil
}

func (s *SQLiteStore) AddDomain(ctx context.Context, projectID, domain string) (*model.Domain, error) {
	d := model.Domain{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Domain:    domain,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (id, project_id, domain, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Domain, d.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert domain")
	}
	return &d, nil
}

func (s *SQLiteStore) ListDomains(ctx context.Context, projectID string) ([]model.Domain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, domain, created_at FROM domains WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list domains")
	}
	defer rows.Close()

	var out []model.Domain
	for rows.Next() {
		var d model.Domain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Domain, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan domain")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate domains")
}
