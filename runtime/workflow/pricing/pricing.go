// Package pricing maps provider models to per-token rates and computes step
// costs. The built-in table covers the models the engine ships support for;
// deployments override or extend it with a YAML file so price changes never
// require a rebuild.
package pricing

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Rate prices one model in USD per thousand tokens.
	Rate struct {
		InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
		OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
	}

	// Table resolves rates by provider and model. Immutable after
	// construction and safe for concurrent use.
	Table struct {
		rates map[string]map[string]Rate
	}
)

// defaultRates is the built-in price list, USD per 1K tokens.
var defaultRates = map[string]map[string]Rate{
	"openai": {
		"gpt-4o":                 {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-3.5-turbo":          {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"text-embedding-3-small": {InputPer1K: 0.00002, OutputPer1K: 0},
	},
	"anthropic": {
		"claude-3.5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-haiku":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	},
	"bedrock": {
		"anthropic.claude-3-5-sonnet-20240620-v1:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	},
}

// Default returns the built-in table.
func Default() *Table {
	return New(defaultRates)
}

// New builds a table from rates. The input map is copied.
func New(rates map[string]map[string]Rate) *Table {
	t := &Table{rates: make(map[string]map[string]Rate, len(rates))}
	for provider, models := range rates {
		dst := make(map[string]Rate, len(models))
		for model, rate := range models {
			dst[model] = rate
		}
		t.rates[provider] = dst
	}
	return t
}

// Load reads a YAML price list and overlays it on the defaults. File entries
// win per model; models absent from the file keep their built-in rates.
//
// File shape:
//
//	openai:
//	  gpt-4o:
//	    input_per_1k: 0.0025
//	    output_per_1k: 0.01
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var overlay map[string]map[string]Rate
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	t := Default()
	for provider, models := range overlay {
		if t.rates[provider] == nil {
			t.rates[provider] = make(map[string]Rate, len(models))
		}
		for model, rate := range models {
			t.rates[provider][model] = rate
		}
	}
	return t, nil
}

// Rate returns the rate for a provider model. Unknown models report false
// with a zero rate so cost math degrades to zero instead of failing runs.
func (t *Table) Rate(provider, model string) (Rate, bool) {
	models, ok := t.rates[provider]
	if !ok {
		return Rate{}, false
	}
	rate, ok := models[model]
	return rate, ok
}

// Cost computes the USD cost of a completion, rounded to six decimals.
func (t *Table) Cost(provider, model string, promptTokens, completionTokens int) float64 {
	rate, _ := t.Rate(provider, model)
	cost := float64(promptTokens)/1000*rate.InputPer1K + float64(completionTokens)/1000*rate.OutputPer1K
	return Round(cost)
}

// Round normalizes a cost to six decimal places, the resolution used in
// records, events and budget math.
func Round(cost float64) float64 {
	return math.Round(cost*1e6) / 1e6
}
