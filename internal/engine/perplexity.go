package engine

import (
	"context"
	"fmt"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/pkg/perplexity"
)

// perplexityAdapter asks Perplexity's answer engine and reads grounding off
// its search_results block.
type perplexityAdapter struct {
	baseAdapter
	apiKey string
}

func newPerplexityAdapter(apiKey string) *perplexityAdapter {
	return &perplexityAdapter{apiKey: apiKey}
}

func (a *perplexityAdapter) Name() string { return "perplexity" }

func (a *perplexityAdapter) client(config map[string]any) perplexity.Client {
	var opts []perplexity.Option
	if base, ok := config["base_url"].(string); ok && base != "" {
		opts = append(opts, perplexity.WithBaseURL(base))
	}
	if m, ok := config["model"].(string); ok && m != "" {
		opts = append(opts, perplexity.WithModel(m))
	}
	return perplexity.NewClient(a.apiKey, opts...)
}

func (a *perplexityAdapter) Fetch(ctx context.Context, in FetchInput) RawEvidence {
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{{Role: "user", Content: in.Query}},
	}
	resp, err := a.client(in.Config).ChatCompletion(ctx, req)
	if err != nil {
		return RawEvidence{Err: "perplexity: " + err.Error()}
	}
	payload, err := toMap(resp)
	if err != nil {
		return RawEvidence{Err: "perplexity: " + err.Error()}
	}
	return RawEvidence{URL: "https://api.perplexity.ai/chat/completions", Payload: payload}
}

func (a *perplexityAdapter) Parse(raw RawEvidence) ParsedAnswer {
	ans := ParsedAnswer{Meta: map[string]any{}}
	var resp perplexity.ChatCompletionResponse
	if err := fromMap(raw.Payload, &resp); err != nil {
		return ans
	}

	if len(resp.Choices) > 0 {
		ans.Text = resp.Choices[0].Message.Content
	}
	if resp.Model != "" {
		ans.Meta["model"] = resp.Model
	}
	if resp.Usage != nil {
		ans.Meta["usage"] = resp.Usage
	}

	seen := make(map[string]bool)
	for i, sr := range resp.SearchResults {
		if sr.URL == "" {
			continue
		}
		seen[sr.URL] = true
		ans.Links = append(ans.Links, Link{
			URL:      sr.URL,
			Anchor:   sr.Title,
			Position: fmt.Sprintf("%d", i+1),
			Type:     string(model.CitationLink),
		})
	}
	// Older responses carry bare citation URLs without search_results.
	for i, u := range resp.Citations {
		if u == "" || seen[u] {
			continue
		}
		ans.Links = append(ans.Links, Link{
			URL:      u,
			Position: fmt.Sprintf("citation:%d", i+1),
			Type:     string(model.CitationLink),
		})
	}
	// Last resort for engines that only inline URLs in prose.
	if len(ans.Links) == 0 {
		ans.Links = linksFromText(ans.Text)
	}
	return ans
}

func (a *perplexityAdapter) ExtractCitations(ans ParsedAnswer) []model.Citation {
	return citationsFromLinks(ans.Links, model.CitationMention)
}
