package store

import (
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/answerlens/answerlens/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

const runColumns = `id, project_id, prompt_version_id, engine_id, monitor_id, status, cycles, delay_seconds,
	started_at, finished_at, metrics, amr_flag, dcr_flag, zcrs, created_at`

// scannable abstracts *sql.Row and *sql.Rows for the scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanRun reads a run row written by the SQLite backend (integer booleans,
// JSON metrics blob).
func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var monitorID, metrics sql.NullString
	var startedAt, finishedAt sql.NullTime
	var amr, dcr sql.NullInt64
	var zcrs sql.NullFloat64

	err := row.Scan(&r.ID, &r.ProjectID, &r.PromptVersionID, &r.EngineID, &monitorID, &r.Status,
		&r.Cycles, &r.DelaySeconds, &startedAt, &finishedAt, &metrics, &amr, &dcr, &zcrs, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	r.MonitorID = monitorID.String
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		r.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		r.FinishedAt = &t
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &r.Metrics); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run metrics")
		}
	}
	if amr.Valid {
		v := amr.Int64 != 0
		r.Metrics.AMRFlag = &v
	}
	if dcr.Valid {
		v := dcr.Int64 != 0
		r.Metrics.DCRFlag = &v
	}
	if zcrs.Valid {
		v := zcrs.Float64
		r.Metrics.ZCRS = &v
	}
	return &r, nil
}

func scanEngine(row scannable) (*model.Engine, error) {
	var e model.Engine
	var config sql.NullString
	err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Region, &e.Device, &config, &e.ConfigHash, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "engine")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan engine")
	}
	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &e.Config); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal engine config")
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scanMonitor(row scannable) (*model.Monitor, error) {
	var m model.Monitor
	var cron, templateIDs, engines sql.NullString
	var active int
	err := row.Scan(&m.ID, &m.ProjectID, &m.Name, &cron, &active, &templateIDs, &engines, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "monitor")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan monitor")
	}
	m.ScheduleCron = cron.String
	m.Active = active != 0
	if templateIDs.Valid && templateIDs.String != "" {
		if err := json.Unmarshal([]byte(templateIDs.String), &m.TemplateIDs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal template ids")
		}
	}
	if engines.Valid && engines.String != "" {
		if err := json.Unmarshal([]byte(engines.String), &m.Engines); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal monitor engines")
		}
	}
	return &m, nil
}
