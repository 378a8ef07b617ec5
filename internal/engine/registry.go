package engine

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Deps carries the provider credentials adapters need. Test overrides for
// base URLs ride in the engine config instead.
type Deps struct {
	SerpAPIKey       string
	PerplexityAPIKey string
	AnthropicAPIKey  string
}

// aliases maps the engine names accepted at run creation onto canonical
// adapter names.
var aliases = map[string]string{
	"google_serp": "google_serp",
	"google":      "google_serp",
	"serp":        "google_serp",
	"perplexity":  "perplexity",
	"pplx":        "perplexity",
	"claude":      "claude",
	"anthropic":   "claude",
	"sandbox":     "sandbox",
	"demo":        "sandbox",
	"fixture":     "sandbox",
}

// Canonical resolves an engine name or alias to its canonical adapter name.
// Unknown names come back lower-cased and untranslated.
func Canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// EffectiveWebSearch resolves the web-search toggle a run will actually use.
// Claude grounds answers with its search tool unless the config turns it off
// (either "use_search" or "web_search"); every other engine leaves grounding
// off unless "web_search" turns it on.
func EffectiveWebSearch(name string, config map[string]any) bool {
	if Canonical(name) == "claude" {
		if v, ok := config["use_search"].(bool); ok {
			return v
		}
		if v, ok := config["web_search"].(bool); ok {
			return v
		}
		return true
	}
	v, _ := config["web_search"].(bool)
	return v
}

// Factory builds adapters by engine name.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps}
}

// New returns the adapter registered under name (or one of its aliases).
func (f *Factory) New(name string) (Adapter, error) {
	switch Canonical(name) {
	case "google_serp":
		return newSerpAdapter(f.deps.SerpAPIKey), nil
	case "perplexity":
		return newPerplexityAdapter(f.deps.PerplexityAPIKey), nil
	case "claude":
		return newClaudeAdapter(f.deps.AnthropicAPIKey), nil
	case "sandbox":
		return newSandboxAdapter(), nil
	default:
		return nil, eris.Errorf("engine: unknown engine %q", name)
	}
}
