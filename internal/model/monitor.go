package model

import "time"

// Monitor is a recurring configuration (templates x engines x cron) that
// spawns runs automatically. The pipeline never mutates a monitor; it only
// creates runs on its behalf.
type Monitor struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	Name         string       `json:"name"`
	ScheduleCron string       `json:"schedule_cron,omitempty"`
	Active       bool         `json:"active"`
	TemplateIDs  []string     `json:"template_ids,omitempty"`
	Engines      []EngineSpec `json:"engines,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PromptTemplate is a reusable query template attached to monitors.
type PromptTemplate struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PromptVersion is an immutable snapshot of the query text a run executed.
// A run always references exactly one prompt version.
type PromptVersion struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Text      string    `json:"text"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}
