// Package engine defines the adapter contract over heterogeneous answer
// engines and the concrete adapters the pipeline ships with.
package engine

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/answerlens/answerlens/internal/model"
)

// FetchInput carries one engine invocation's parameters.
type FetchInput struct {
	Query    string         `json:"query"`
	Language string         `json:"language"`
	Region   string         `json:"region"`
	Device   string         `json:"device"`
	Config   map[string]any `json:"config"`
}

// RawEvidence is the engine's native response. Irrecoverable fetch failures
// come back tagged in Err instead of as a Go error so the caller can log and
// classify them uniformly.
type RawEvidence struct {
	URL     string         `json:"url,omitempty"`
	Payload map[string]any `json:"payload"`
	Err     string         `json:"err,omitempty"`
}

// Failed reports whether the evidence carries a tagged fetch error.
func (r RawEvidence) Failed() bool { return r.Err != "" }

// Link is a URL referenced by an answer, prior to normalization.
type Link struct {
	URL      string `json:"url"`
	Anchor   string `json:"anchor,omitempty"`
	Position string `json:"position,omitempty"`
	Type     string `json:"type,omitempty"`
}

// ParsedAnswer is the engine-agnostic shape extracted from RawEvidence.
type ParsedAnswer struct {
	Text  string         `json:"text"`
	Links []Link         `json:"links"`
	Meta  map[string]any `json:"meta"`
}

// Adapter is the uniform contract every engine implements. Parse and
// ExtractCitations are best-effort and must tolerate partially-shaped
// payloads; Normalize is an engine-specific hook, identity by default.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, in FetchInput) RawEvidence
	Parse(raw RawEvidence) ParsedAnswer
	Normalize(ans ParsedAnswer) ParsedAnswer
	ExtractCitations(ans ParsedAnswer) []model.Citation
}

// baseAdapter provides the default Normalize and citation extraction shared
// by concrete adapters.
type baseAdapter struct{}

func (baseAdapter) Normalize(ans ParsedAnswer) ParsedAnswer { return ans }

// citationsFromLinks converts parsed links into citation records. Domain and
// URL both hold the not-yet-normalized URL; canonicalization happens
// downstream.
func citationsFromLinks(links []Link, defaultType model.CitationType) []model.Citation {
	out := make([]model.Citation, 0, len(links))
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		typ := model.CitationType(l.Type)
		if typ == "" {
			typ = defaultType
		}
		out = append(out, model.Citation{
			Domain:   l.URL,
			URL:      l.URL,
			Anchor:   l.Anchor,
			Position: l.Position,
			Type:     typ,
		})
	}
	return out
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// linksFromText scrapes URLs out of answer text, the fallback for engines
// without explicit grounding data.
func linksFromText(text string) []Link {
	matches := urlPattern.FindAllString(text, -1)
	out := make([]Link, 0, len(matches))
	for _, m := range matches {
		out = append(out, Link{URL: strings.TrimRight(m, ".,;:")})
	}
	return out
}

// CanonicalLanguage maps free-form language inputs ("PT-br", "Portuguese"
// won't parse, "pt_BR" will) to a BCP 47 base tag. Unparseable input falls
// back to the lower-cased original.
func CanonicalLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}
