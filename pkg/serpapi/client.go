// Package serpapi wraps the SerpApi Google Search endpoint, including the
// AI overview block attached to answer-engine style results.
package serpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/answerlens/answerlens/internal/resilience"
)

const (
	defaultBaseURL = "https://serpapi.com"

	maxRetryAttempts = 3
	retryBaseDelay   = 200 * time.Millisecond
)

// Client performs searches against SerpApi.
type Client interface {
	Search(ctx context.Context, params SearchParams) (*SearchResponse, error)
}

// SearchParams are the query parameters for GET /search.
type SearchParams struct {
	Query    string
	Language string // hl
	Country  string // gl
	Device   string // desktop, mobile, tablet
}

// SearchResponse is the subset of the SerpApi payload the pipeline consumes.
type SearchResponse struct {
	SearchMetadata SearchMetadata  `json:"search_metadata"`
	AIOverview     *AIOverview     `json:"ai_overview"`
	AnswerBox      *AnswerBox      `json:"answer_box"`
	OrganicResults []OrganicResult `json:"organic_results"`
}

// SearchMetadata identifies the upstream search.
type SearchMetadata struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AIOverview is Google's AI-generated answer block.
type AIOverview struct {
	TextBlocks []TextBlock `json:"text_blocks"`
	References []Reference `json:"references"`
}

// TextBlock is one fragment of the AI overview text.
type TextBlock struct {
	Type    string `json:"type"`
	Snippet string `json:"snippet"`
}

// Reference is a source cited by the AI overview.
type Reference struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	Source string `json:"source"`
}

// AnswerBox is the featured snippet, when present.
type AnswerBox struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// OrganicResult is one classic search hit.
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a SerpApi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", params.Query)
	q.Set("api_key", c.apiKey)
	if params.Language != "" {
		q.Set("hl", params.Language)
	}
	if params.Country != "" {
		q.Set("gl", params.Country)
	}
	if params.Device != "" {
		q.Set("device", params.Device)
	}
	endpoint := c.baseURL + "/search?" + q.Encode()

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxRetryAttempts
	cfg.InitialBackoff = retryBaseDelay
	cfg.OnRetry = resilience.RetryLogger("serpapi", "search")

	return resilience.Do(ctx, cfg, func(ctx context.Context) (*SearchResponse, error) {
		return c.doOnce(ctx, endpoint)
	})
}

// doOnce performs a single request attempt; 429 and 5xx failures come back
// tagged transient so the retry layer tries again.
func (c *httpClient) doOnce(ctx context.Context, endpoint string) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("serpapi: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "serpapi: unmarshal response")
	}
	return &result, nil
}
