// Package cost converts provider usage payloads into billable token counts
// and estimated USD amounts.
package cost

import (
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Pricing holds the rates for one (engine, model) pair. All fields are
// optional; nil means the rate is not configured. Token rates are USD per 1k
// tokens, PerCallUSD is a flat per-request fee.
type Pricing struct {
	InputPer1kUSD  *float64 `yaml:"input_per_1k_usd" json:"input_per_1k_usd,omitempty"`
	OutputPer1kUSD *float64 `yaml:"output_per_1k_usd" json:"output_per_1k_usd,omitempty"`
	TotalPer1kUSD  *float64 `yaml:"total_per_1k_usd" json:"total_per_1k_usd,omitempty"`
	PerCallUSD     *float64 `yaml:"per_call_usd" json:"per_call_usd,omitempty"`
}

func (p Pricing) empty() bool {
	return p.InputPer1kUSD == nil && p.OutputPer1kUSD == nil && p.TotalPer1kUSD == nil && p.PerCallUSD == nil
}

func rate(v float64) *float64 { return &v }

// Calculator resolves pricing and computes costs. The default table can be
// extended or overridden per (engine, model) via an overrides file.
type Calculator struct {
	table map[string]Pricing
}

// NewCalculator creates a Calculator over the default pricing table.
func NewCalculator() *Calculator {
	return &Calculator{table: defaultTable()}
}

func tableKey(engine, model string) string {
	return strings.ToLower(engine) + "|" + strings.ToLower(model)
}

// defaultTable returns default per-(engine, model) pricing in USD per 1k
// tokens (or per call for non-token engines).
func defaultTable() map[string]Pricing {
	return map[string]Pricing{
		tableKey("openai", "gpt-5"):           {InputPer1kUSD: rate(0.00125), OutputPer1kUSD: rate(0.01)},
		tableKey("openai", "gpt-4.1"):         {InputPer1kUSD: rate(0.002), OutputPer1kUSD: rate(0.008)},
		tableKey("gemini", "gemini-2.5-pro"):  {InputPer1kUSD: rate(0.00125), OutputPer1kUSD: rate(0.01)},
		tableKey("gemini", "gemini-2.5-flash"): {InputPer1kUSD: rate(0.0003), OutputPer1kUSD: rate(0.0025)},
		tableKey("perplexity", "sonar-pro"):   {InputPer1kUSD: rate(0.003), OutputPer1kUSD: rate(0.015)},
		tableKey("google_serp", "serpapi"):    {PerCallUSD: rate(0.0075)},
		tableKey("claude", "claude-sonnet-4-5-20250929"): {InputPer1kUSD: rate(0.003), OutputPer1kUSD: rate(0.015)},
		tableKey("claude", "claude-haiku-4-5-20251001"):  {InputPer1kUSD: rate(0.0008), OutputPer1kUSD: rate(0.004)},
	}
}

// LoadOverrides merges a yaml overrides file into the pricing table. The file
// maps "engine/model" keys to Pricing blocks.
func (c *Calculator) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "cost: read overrides")
	}
	var overrides map[string]Pricing
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return eris.Wrap(err, "cost: unmarshal overrides")
	}
	for key, p := range overrides {
		engine, model, ok := strings.Cut(key, "/")
		if !ok {
			return eris.Errorf("cost: override key %q is not engine/model", key)
		}
		c.table[tableKey(engine, model)] = p
	}
	return nil
}

// DefaultPricing returns the table pricing for (engine, model), or nil when
// none is known. Names are case-insensitive.
func (c *Calculator) DefaultPricing(engine, model string) *Pricing {
	if p, ok := c.table[tableKey(engine, model)]; ok {
		out := p
		return &out
	}
	return nil
}

// intFromAny coerces JSON-decoded numbers to an int pointer.
func intFromAny(v any) *int {
	switch n := v.(type) {
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	}
	return nil
}

// ExtractTokens reads token counts from a provider usage payload, tolerating
// the key aliases used across providers. When cached (discounted) input
// tokens are reported, billable input is max(0, raw input - cached). Total
// defaults to input+output when the provider omits it. Nil means unknown.
func ExtractTokens(usage map[string]any) (input, output, total *int) {
	if len(usage) == 0 {
		return nil, nil, nil
	}

	rawInput := firstInt(usage, "prompt_tokens", "input_tokens", "input")
	output = firstInt(usage, "completion_tokens", "output_tokens", "output")

	var cached int
	if details, ok := usage["input_tokens_details"].(map[string]any); ok {
		if c := intFromAny(details["cached_tokens"]); c != nil {
			cached = *c
		}
	}
	if rawInput != nil {
		billable := *rawInput - cached
		if billable < 0 {
			billable = 0
		}
		input = &billable
	}

	total = intFromAny(usage["total_tokens"])
	if total == nil && (input != nil || output != nil) {
		sum := 0
		if input != nil {
			sum += *input
		}
		if output != nil {
			sum += *output
		}
		total = &sum
	}
	return input, output, total
}

func firstInt(usage map[string]any, keys ...string) *int {
	for _, k := range keys {
		if v := intFromAny(usage[k]); v != nil {
			return v
		}
	}
	return nil
}

// EstimateUsageFromText approximates a usage payload when the provider
// supplies none: roughly 4 characters per output token over the
// whitespace-collapsed text, input counted as zero. Returns nil for empty
// text.
func EstimateUsageFromText(text string) map[string]any {
	if text == "" {
		return nil
	}
	compact := strings.Join(strings.Fields(text), " ")
	approx := int(math.Ceil(float64(len(compact)) / 4))
	if approx < 1 {
		approx = 1
	}
	return map[string]any{
		"input_tokens":  0,
		"output_tokens": approx,
		"total_tokens":  approx,
	}
}

// PricingFromConfig reads a "pricing" block out of an engine configuration.
func PricingFromConfig(engineConfig map[string]any) *Pricing {
	raw, ok := engineConfig["pricing"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	p := Pricing{}
	if v, ok := raw["input_per_1k_usd"]; ok {
		p.InputPer1kUSD = floatFromAny(v)
	}
	if v, ok := raw["output_per_1k_usd"]; ok {
		p.OutputPer1kUSD = floatFromAny(v)
	}
	if v, ok := raw["total_per_1k_usd"]; ok {
		p.TotalPer1kUSD = floatFromAny(v)
	}
	if v, ok := raw["per_call_usd"]; ok {
		p.PerCallUSD = floatFromAny(v)
	}
	if p.empty() {
		return nil
	}
	return &p
}

func floatFromAny(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	}
	return nil
}

// ComputeCostUSD estimates the USD cost of a call. A user-supplied pricing
// block in the engine configuration wins over the default table for
// (engine, model). Returns nil when no pricing is known or usage carries no
// billable signal. Monotonically non-decreasing in token counts for fixed
// pricing.
func (c *Calculator) ComputeCostUSD(engine, model string, engineConfig, usage map[string]any) *float64 {
	pricing := PricingFromConfig(engineConfig)
	if pricing == nil {
		pricing = c.DefaultPricing(engine, model)
	}
	if pricing == nil || pricing.empty() {
		return nil
	}

	input, output, total := ExtractTokens(usage)

	sum := 0.0
	if pricing.PerCallUSD != nil {
		sum += *pricing.PerCallUSD
	}

	// A blended total rate takes precedence over split input/output rates.
	if total != nil && pricing.TotalPer1kUSD != nil {
		sum += float64(*total) / 1000.0 * *pricing.TotalPer1kUSD
		return round6(sum)
	}
	if input != nil && pricing.InputPer1kUSD != nil {
		sum += float64(*input) / 1000.0 * *pricing.InputPer1kUSD
	}
	if output != nil && pricing.OutputPer1kUSD != nil {
		sum += float64(*output) / 1000.0 * *pricing.OutputPer1kUSD
	}
	if sum <= 0 {
		return nil
	}
	return round6(sum)
}

func round6(v float64) *float64 {
	r := math.Round(v*1e6) / 1e6
	return &r
}
