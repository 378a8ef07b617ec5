package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerlens/answerlens/internal/model"
)

func TestClaudeParse(t *testing.T) {
	a := newClaudeAdapter("k")
	ans := a.Parse(RawEvidence{Payload: map[string]any{
		"model": "claude-sonnet-4-5-20250929",
		"usage": map[string]any{"input_tokens": 20, "output_tokens": 40},
		"content": []any{
			map[string]any{
				"type": "text",
				"text": "Pix é o sistema de pagamentos instantâneos.",
				"citations": []any{
					map[string]any{"url": "https://www.bcb.gov.br/pix", "title": "Pix - BCB"},
				},
			},
		},
	}})
	assert.Contains(t, ans.Text, "pagamentos")
	assert.Equal(t, "claude-sonnet-4-5-20250929", ans.Meta["model"])
	require.Len(t, ans.Links, 1)
	assert.Equal(t, "https://www.bcb.gov.br/pix", ans.Links[0].URL)

	citations := a.ExtractCitations(ans)
	require.Len(t, citations, 1)
	assert.Equal(t, model.CitationLink, citations[0].Type)
}

func TestClaudeFetchDegradesToolUseStepwise(t *testing.T) {
	const errorBody = `{"type":"error","error":{"type":"invalid_request_error","message":"tool rejected"}}`
	var forced, auto, plain atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasTools := body["tools"]
		choice, hasChoice := body["tool_choice"].(map[string]any)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case hasChoice:
			forced.Add(1)
			assert.Equal(t, "tool", choice["type"])
			assert.Equal(t, "web_search", choice["name"])
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(errorBody))
		case hasTools:
			auto.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(errorBody))
		default:
			plain.Add(1)
			_, _ = w.Write([]byte(`{
				"id": "msg_fallback",
				"type": "message",
				"role": "assistant",
				"model": "claude-sonnet-4-5-20250929",
				"stop_reason": "end_turn",
				"content": [{"type": "text", "text": "Veja https://www.bcb.gov.br/pix para detalhes."}],
				"usage": {"input_tokens": 10, "output_tokens": 12}
			}`))
		}
	}))
	defer srv.Close()

	a := newClaudeAdapter("k")
	raw := a.Fetch(context.Background(), FetchInput{
		Query:  "o que é pix",
		Config: map[string]any{"base_url": srv.URL},
	})
	require.False(t, raw.Failed(), raw.Err)

	// Required tool use, then model-chosen tool use, then no tool at all.
	assert.Equal(t, int32(1), forced.Load())
	assert.Equal(t, int32(1), auto.Load())
	assert.Equal(t, int32(1), plain.Load())

	ans := a.Parse(raw)
	require.Len(t, ans.Links, 1)
	assert.Equal(t, "https://www.bcb.gov.br/pix", ans.Links[0].URL)
}

func TestClaudeFetchHonorsSearchOptOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasTools := body["tools"]
		_, hasChoice := body["tool_choice"]
		assert.False(t, hasTools, "tools must be absent when search is off")
		assert.False(t, hasChoice, "tool_choice must be absent when search is off")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_plain",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "resposta"}],
			"usage": {"input_tokens": 5, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	a := newClaudeAdapter("k")
	raw := a.Fetch(context.Background(), FetchInput{
		Query:  "o que é pix",
		Config: map[string]any{"base_url": srv.URL, "web_search": false},
	})
	require.False(t, raw.Failed(), raw.Err)
}

func TestClaudeParseUngroundedFallsBackToInlineURLs(t *testing.T) {
	a := newClaudeAdapter("k")
	ans := a.Parse(RawEvidence{Payload: map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "Veja https://www.bcb.gov.br/pix para detalhes."},
		},
	}})
	require.Len(t, ans.Links, 1)
	assert.Equal(t, "https://www.bcb.gov.br/pix", ans.Links[0].URL)
}
