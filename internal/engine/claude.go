package engine

import (
	"context"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/model"
	"github.com/answerlens/answerlens/pkg/anthropic"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-5-20250929"
	defaultClaudeMaxTokens = 1024
	defaultWebSearchUses   = 3
)

// claudeAdapter asks Claude with the web search tool attached. Grounding
// degrades one step per failure: required tool use, then model-chosen tool
// use, then a plain completion whose inline URLs become the citation source.
type claudeAdapter struct {
	baseAdapter
	apiKey string
}

func newClaudeAdapter(apiKey string) *claudeAdapter {
	return &claudeAdapter{apiKey: apiKey}
}

func (a *claudeAdapter) Name() string { return "claude" }

func (a *claudeAdapter) client(config map[string]any) anthropic.Client {
	var opts []option.RequestOption
	if base, ok := config["base_url"].(string); ok && base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return anthropic.NewClient(a.apiKey, opts...)
}

func (a *claudeAdapter) Fetch(ctx context.Context, in FetchInput) RawEvidence {
	client := a.client(in.Config)

	useSearch := EffectiveWebSearch(a.Name(), in.Config)
	req := anthropic.MessageRequest{
		Model:            defaultClaudeModel,
		MaxTokens:        defaultClaudeMaxTokens,
		Messages:         []anthropic.Message{{Role: "user", Content: in.Query}},
		WebSearch:        useSearch,
		WebSearchForce:   useSearch,
		WebSearchMaxUses: defaultWebSearchUses,
	}
	if m, ok := in.Config["model"].(string); ok && m != "" {
		req.Model = m
	}
	if mt, ok := toInt(in.Config["max_tokens"]); ok && mt > 0 {
		req.MaxTokens = int64(mt)
	}

	resp, err := client.CreateMessage(ctx, req)
	if err != nil && req.WebSearchForce && ctx.Err() == nil {
		zap.L().Warn("claude: forced web search failed, retrying with model-chosen tool use", zap.Error(err))
		req.WebSearchForce = false
		resp, err = client.CreateMessage(ctx, req)
	}
	if err != nil && req.WebSearch && ctx.Err() == nil {
		zap.L().Warn("claude: web search call failed, retrying without tool", zap.Error(err))
		req.WebSearch = false
		resp, err = client.CreateMessage(ctx, req)
	}
	if err != nil {
		return RawEvidence{Err: "claude: " + err.Error()}
	}

	payload := map[string]any{
		"id":          resp.ID,
		"model":       resp.Model,
		"stop_reason": resp.StopReason,
		"usage": map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"input_tokens_details": map[string]any{
				"cached_tokens": resp.Usage.CacheReadInputTokens,
			},
		},
	}
	var content []any
	for _, b := range resp.Content {
		block := map[string]any{"type": b.Type, "text": b.Text}
		var citations []any
		for _, c := range b.Citations {
			citations = append(citations, map[string]any{
				"url":        c.URL,
				"title":      c.Title,
				"cited_text": c.CitedText,
			})
		}
		if citations != nil {
			block["citations"] = citations
		}
		content = append(content, block)
	}
	payload["content"] = content

	return RawEvidence{URL: "https://api.anthropic.com/v1/messages", Payload: payload}
}

func (a *claudeAdapter) Parse(raw RawEvidence) ParsedAnswer {
	ans := ParsedAnswer{Meta: map[string]any{}}
	if raw.Payload == nil {
		return ans
	}
	if m, ok := raw.Payload["model"].(string); ok {
		ans.Meta["model"] = m
	}
	if usage, ok := raw.Payload["usage"].(map[string]any); ok {
		ans.Meta["usage"] = usage
	}

	content, _ := raw.Payload["content"].([]any)
	position := 0
	for _, c := range content {
		block, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := block["text"].(string); ok && text != "" {
			if ans.Text != "" {
				ans.Text += "\n"
			}
			ans.Text += text
		}
		citations, _ := block["citations"].([]any)
		for _, entry := range citations {
			cit, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			u, _ := cit["url"].(string)
			if u == "" {
				continue
			}
			position++
			title, _ := cit["title"].(string)
			ans.Links = append(ans.Links, Link{
				URL:      u,
				Anchor:   title,
				Position: strconv.Itoa(position),
				Type:     string(model.CitationLink),
			})
		}
	}
	// Ungrounded answers only reference sources inline.
	if len(ans.Links) == 0 {
		ans.Links = linksFromText(ans.Text)
	}
	return ans
}

func (a *claudeAdapter) ExtractCitations(ans ParsedAnswer) []model.Citation {
	return citationsFromLinks(ans.Links, model.CitationMention)
}
