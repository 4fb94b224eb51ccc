package providers

// Price is the cost of one million tokens in each direction.
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// PriceTable maps "provider/model" or bare "model" names to prices.
type PriceTable map[string]Price

// DefaultPrices covers the hosted models most tenants configure.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o":                      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4o-mini":                 {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4.1":                     {InputPerMillion: 2.00, OutputPerMillion: 8.00},
		"gpt-4.1-mini":                {InputPerMillion: 0.40, OutputPerMillion: 1.60},
		"claude-3-5-haiku-latest":     {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"claude-3-5-sonnet-latest":    {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		"anthropic/claude-sonnet-4-0": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	}
}

// Lookup returns the price of a model, preferring the provider-qualified entry.
func (t PriceTable) Lookup(provider, model string) (Price, bool) {
	if p, ok := t[provider+"/"+model]; ok {
		return p, true
	}
	p, ok := t[model]
	return p, ok
}

// Cost returns the price of a call. Unknown models cost nothing.
func (t PriceTable) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	p, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	return float64(inputTokens)*p.InputPerMillion/1e6 + float64(outputTokens)*p.OutputPerMillion/1e6
}
