package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/pkg/serpapi"
)

// serpAdapter wraps Google search results (with their AI overview block)
// fetched through SerpApi.
type serpAdapter struct {
	baseAdapter
	apiKey string
}

func newSerpAdapter(apiKey string) *serpAdapter {
	return &serpAdapter{apiKey: apiKey}
}

func (a *serpAdapter) Name() string { return "google_serp" }

func (a *serpAdapter) client(config map[string]any) serpapi.Client {
	var opts []serpapi.Option
	if base, ok := config["base_url"].(string); ok && base != "" {
		opts = append(opts, serpapi.WithBaseURL(base))
	}
	return serpapi.NewClient(a.apiKey, opts...)
}

func (a *serpAdapter) Fetch(ctx context.Context, in FetchInput) RawEvidence {
	resp, err := a.client(in.Config).Search(ctx, serpapi.SearchParams{
		Query:    in.Query,
		Language: CanonicalLanguage(in.Language),
		Country:  in.Region,
		Device:   in.Device,
	})
	if err != nil {
		return RawEvidence{Err: "google_serp: " + err.Error()}
	}
	payload, err := toMap(resp)
	if err != nil {
		return RawEvidence{Err: "google_serp: " + err.Error()}
	}
	return RawEvidence{URL: "https://serpapi.com/search", Payload: payload}
}

func (a *serpAdapter) Parse(raw RawEvidence) ParsedAnswer {
	ans := ParsedAnswer{Meta: map[string]any{"model": "serpapi"}}
	var resp serpapi.SearchResponse
	if err := fromMap(raw.Payload, &resp); err != nil {
		return ans
	}
	ans.Meta["search_id"] = resp.SearchMetadata.ID

	var text []string
	if resp.AIOverview != nil {
		for _, b := range resp.AIOverview.TextBlocks {
			if b.Snippet != "" {
				text = append(text, b.Snippet)
			}
		}
		for i, ref := range resp.AIOverview.References {
			ans.Links = append(ans.Links, Link{
				URL:      ref.Link,
				Anchor:   ref.Title,
				Position: fmt.Sprintf("ai_overview:%d", i+1),
				Type:     string(model.CitationAIReference),
			})
		}
	}
	if resp.AnswerBox != nil {
		if resp.AnswerBox.Snippet != "" {
			text = append(text, resp.AnswerBox.Snippet)
		}
		if resp.AnswerBox.Link != "" {
			ans.Links = append(ans.Links, Link{
				URL:      resp.AnswerBox.Link,
				Anchor:   resp.AnswerBox.Title,
				Position: "answer_box",
				Type:     string(model.CitationLink),
			})
		}
	}
	for _, r := range resp.OrganicResults {
		if r.Link == "" {
			continue
		}
		ans.Links = append(ans.Links, Link{
			URL:      r.Link,
			Anchor:   r.Title,
			Position: fmt.Sprintf("organic:%d", r.Position),
			Type:     string(model.CitationMention),
		})
	}

	ans.Text = strings.Join(text, "\n")
	return ans
}

func (a *serpAdapter) ExtractCitations(ans ParsedAnswer) []model.Citation {
	return citationsFromLinks(ans.Links, model.CitationMention)
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromMap(m map[string]any, v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
