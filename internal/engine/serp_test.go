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

func TestSerpFetchAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "o que é pix", r.URL.Query().Get("q"))
		assert.Equal(t, "pt", r.URL.Query().Get("hl"))
		assert.Equal(t, "br", r.URL.Query().Get("gl"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"search_metadata": {"id": "s1", "status": "Success"},
			"ai_overview": {
				"text_blocks": [{"type": "paragraph", "snippet": "Pix é o sistema de pagamentos instantâneos."}],
				"references": [{"title": "Pix - BCB", "link": "https://www.bcb.gov.br/pix", "source": "bcb.gov.br"}]
			},
			"answer_box": {"title": "Pix", "link": "https://pt.wikipedia.org/wiki/Pix", "snippet": "sistema brasileiro"},
			"organic_results": [{"position": 1, "title": "Guia Pix", "link": "https://www.infomoney.com.br/guias/pix/", "snippet": "..."}]
		}`))
	}))
	defer srv.Close()

	a := newSerpAdapter("test-key")
	in := FetchInput{
		Query:    "o que é pix",
		Language: "pt-BR",
		Region:   "br",
		Config:   map[string]any{"base_url": srv.URL},
	}
	raw := a.Fetch(context.Background(), in)
	require.False(t, raw.Failed(), raw.Err)

	ans := a.Parse(raw)
	assert.Contains(t, ans.Text, "pagamentos instantâneos")
	assert.Equal(t, "s1", ans.Meta["search_id"])
	require.Len(t, ans.Links, 3)

	citations := a.ExtractCitations(ans)
	require.Len(t, citations, 3)
	assert.Equal(t, model.CitationAIReference, citations[0].Type)
	assert.Equal(t, model.CitationLink, citations[1].Type)
	assert.Equal(t, model.CitationMention, citations[2].Type)
	assert.Equal(t, "organic:1", citations[2].Position)
}

func TestSerpFetchTaggedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := newSerpAdapter("bad-key")
	raw := a.Fetch(context.Background(), FetchInput{Query: "x", Config: map[string]any{"base_url": srv.URL}})
	assert.True(t, raw.Failed())
	assert.Contains(t, raw.Err, "401")
}

func TestSerpParseTolerant(t *testing.T) {
	a := newSerpAdapter("k")
	ans := a.Parse(RawEvidence{Payload: map[string]any{"organic_results": "not-a-list"}})
	assert.Empty(t, ans.Links)
	assert.Empty(t, ans.Text)
}
