package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerlens/answerlens/internal/model"
)

func TestPerplexityFetchAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "sonar-pro",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Pix é o sistema de pagamentos do Banco Central [1][2]."}}],
			"citations": ["https://www.bcb.gov.br/pix", "https://pt.wikipedia.org/wiki/Pix"],
			"search_results": [
				{"title": "Pix - BCB", "url": "https://www.bcb.gov.br/pix", "date": "2024-01-10"}
			],
			"usage": {"prompt_tokens": 12, "completion_tokens": 34}
		}`))
	}))
	defer srv.Close()

	a := newPerplexityAdapter("test-key")
	raw := a.Fetch(context.Background(), FetchInput{
		Query:  "o que é pix",
		Config: map[string]any{"base_url": srv.URL, "model": "sonar-pro"},
	})
	require.False(t, raw.Failed(), raw.Err)

	ans := a.Parse(raw)
	assert.Contains(t, ans.Text, "Banco Central")
	assert.Equal(t, "sonar-pro", ans.Meta["model"])
	usage, ok := ans.Meta["usage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(12), usage["prompt_tokens"])

	// search_results plus the one citation URL not already covered.
	require.Len(t, ans.Links, 2)
	assert.Equal(t, "https://www.bcb.gov.br/pix", ans.Links[0].URL)
	assert.Equal(t, "https://pt.wikipedia.org/wiki/Pix", ans.Links[1].URL)

	citations := a.ExtractCitations(ans)
	require.Len(t, citations, 2)
	assert.Equal(t, model.CitationLink, citations[0].Type)
}

func TestPerplexityFallbackToInlineURLs(t *testing.T) {
	a := newPerplexityAdapter("k")
	ans := a.Parse(RawEvidence{Payload: map[string]any{
		"choices": []any{map[string]any{
			"index":   0,
			"message": map[string]any{"role": "assistant", "content": "Fonte: https://www.bcb.gov.br/pix"},
		}},
	}})
	require.Len(t, ans.Links, 1)
	assert.Equal(t, "https://www.bcb.gov.br/pix", ans.Links[0].URL)
}

func TestPerplexityFetchTaggedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := newPerplexityAdapter("bad-key")
	raw := a.Fetch(context.Background(), FetchInput{Query: "x", Config: map[string]any{"base_url": srv.URL}})
	assert.True(t, raw.Failed())
	assert.Contains(t, raw.Err, "401")
}
