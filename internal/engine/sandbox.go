package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/answerlens/answerlens/internal/model"
)

// sandboxAdapter is a deterministic engine for demos and tests: no network,
// stable citations for any query. Config knobs "fail" and "sleep_ms" force
// the failure and slow paths.
type sandboxAdapter struct {
	baseAdapter
}

func newSandboxAdapter() *sandboxAdapter { return &sandboxAdapter{} }

func (a *sandboxAdapter) Name() string { return "sandbox" }

func (a *sandboxAdapter) Fetch(ctx context.Context, in FetchInput) RawEvidence {
	if ms, ok := toInt(in.Config["sleep_ms"]); ok && ms > 0 {
		select {
		case <-ctx.Done():
			return RawEvidence{Err: "sandbox: cancelled: " + ctx.Err().Error()}
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
	}
	if fail, _ := in.Config["fail"].(bool); fail {
		return RawEvidence{Err: "sandbox: forced failure"}
	}

	answer := fmt.Sprintf(
		"Resposta de demonstração para %q. Veja https://www.bcb.gov.br/estabilidadefinanceira/pix para a fonte oficial.",
		in.Query,
	)
	return RawEvidence{
		URL: "sandbox://answer",
		Payload: map[string]any{
			"answer": answer,
			"model":  "sandbox-v1",
			"sources": []any{
				map[string]any{
					"url":    "https://www.bcb.gov.br/estabilidadefinanceira/pix",
					"anchor": "Pix - Banco Central do Brasil",
					"type":   "link",
				},
				map[string]any{
					"url":    "https://pt.wikipedia.org/wiki/Pix",
					"anchor": "Pix - Wikipédia",
					"type":   "mention",
				},
				map[string]any{
					"url":    "https://www.infomoney.com.br/guias/pix/",
					"anchor": "O que é Pix",
					"type":   "mention",
				},
			},
			"usage": map[string]any{"input_tokens": 12, "output_tokens": 48},
		},
	}
}

func (a *sandboxAdapter) Parse(raw RawEvidence) ParsedAnswer {
	ans := ParsedAnswer{Meta: map[string]any{}}
	if raw.Payload == nil {
		return ans
	}
	ans.Text, _ = raw.Payload["answer"].(string)
	if name, ok := raw.Payload["model"].(string); ok {
		ans.Meta["model"] = name
	}
	if usage, ok := raw.Payload["usage"].(map[string]any); ok {
		ans.Meta["usage"] = usage
	}
	sources, _ := raw.Payload["sources"].([]any)
	for i, s := range sources {
		src, ok := s.(map[string]any)
		if !ok {
			continue
		}
		link := Link{Position: fmt.Sprintf("%d", i+1)}
		link.URL, _ = src["url"].(string)
		link.Anchor, _ = src["anchor"].(string)
		link.Type, _ = src["type"].(string)
		if link.URL != "" {
			ans.Links = append(ans.Links, link)
		}
	}
	return ans
}

func (a *sandboxAdapter) ExtractCitations(ans ParsedAnswer) []model.Citation {
	return citationsFromLinks(ans.Links, model.CitationMention)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
