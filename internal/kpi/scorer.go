package kpi

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/internal/normalize"
	"github.com/answerlens/answerlens/internal/store"
)

// Weights tunes the zero-click risk score. The score starts at 100 and
// subtracts Link per link-typed citation and PerCitation per citation of any
// type, clamped to [0, 100]. Higher means fewer or less-linked citations.
type Weights struct {
	Link        float64
	PerCitation float64
}

// DefaultWeights matches the published scoring behavior.
func DefaultWeights() Weights {
	return Weights{Link: 20, PerCitation: 10}
}

// Report is the per-run KPI summary returned to API clients.
type Report struct {
	RunID     string           `json:"run_id"`
	AMR       float64          `json:"amr"`
	DCR       float64          `json:"dcr"`
	ZCRS      float64          `json:"zcrs"`
	Citations []model.Citation `json:"citations"`
}

// Scorer computes run KPIs from deduplicated citations and the project's own
// domain set.
type Scorer struct {
	store   store.Store
	weights Weights
}

func NewScorer(st store.Store, weights Weights) *Scorer {
	if weights.Link == 0 && weights.PerCitation == 0 {
		weights = DefaultWeights()
	}
	return &Scorer{store: st, weights: weights}
}

// Score computes AMR, DCR and ZCRS from a deduplicated citation set and the
// project's own-domain set. Pure and deterministic.
func (s *Scorer) Score(citations []model.Citation, ownDomains map[string]bool) (amr, dcr, zcrs float64) {
	links := 0
	for _, c := range citations {
		if c.Type == model.CitationLink {
			links++
		}
		ours := c.IsOurs || ownDomains[normalize.Domain(c.Domain)]
		if ours {
			amr = 1
			if c.Type == model.CitationLink {
				dcr = 1
			}
		}
	}
	zcrs = 100 - s.weights.Link*float64(links) - s.weights.PerCitation*float64(len(citations))
	if zcrs < 0 {
		zcrs = 0
	}
	if zcrs > 100 {
		zcrs = 100
	}
	return amr, dcr, zcrs
}

// ComputeReport loads a run's citations, scores them against the project's
// domains, persists the KPI fields onto the run, and returns the report.
// Idempotent: recomputation with the same citations yields the same result.
func (s *Scorer) ComputeReport(ctx context.Context, runID string) (*Report, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "kpi: load run %s", runID)
	}

	citations, err := s.store.ListCitations(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "kpi: load citations for run %s", runID)
	}
	citations = normalize.Dedupe(citations)

	domains, err := s.store.ListDomains(ctx, run.ProjectID)
	if err != nil {
		return nil, eris.Wrapf(err, "kpi: load domains for project %s", run.ProjectID)
	}
	own := make(map[string]bool, len(domains))
	for _, d := range domains {
		own[normalize.Domain(d.Domain)] = true
	}

	amr, dcr, zcrs := s.Score(citations, own)
	if err := s.store.UpdateRunKPI(ctx, runID, amr == 1, dcr == 1, zcrs); err != nil {
		return nil, eris.Wrapf(err, "kpi: persist for run %s", runID)
	}

	zap.L().With(
		zap.String("run_id", runID),
		zap.Float64("amr", amr),
		zap.Float64("dcr", dcr),
		zap.Float64("zcrs", zcrs),
		zap.Int("citations", len(citations)),
	).Debug("kpi computed")

	return &Report{RunID: runID, AMR: amr, DCR: dcr, ZCRS: zcrs, Citations: citations}, nil
}
