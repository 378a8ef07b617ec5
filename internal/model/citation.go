package model

import "time"

// CitationType classifies how a source appeared in an answer.
type CitationType string

const (
	CitationLink        CitationType = "link"
	CitationMention     CitationType = "mention"
	CitationAIReference CitationType = "ai-reference"
)

// Citation is one web source referenced by an engine answer. Adapters emit
// citations with Domain/URL still un-normalized; canonicalization happens in
// the normalize package before KPI scoring.
type Citation struct {
	ID        string       `json:"id,omitempty"`
	RunID     string       `json:"run_id,omitempty"`
	Domain    string       `json:"domain"`
	URL       string       `json:"url,omitempty"`
	Anchor    string       `json:"anchor,omitempty"`
	Position  string       `json:"position,omitempty"`
	Type      CitationType `json:"type,omitempty"`
	IsOurs    bool         `json:"is_ours"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Domain is a project-owned domain used to tag citations and score KPIs.
type Domain struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}
