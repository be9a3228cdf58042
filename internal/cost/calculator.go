package cost

// ModelRate holds per-model token pricing in USD per thousand tokens.
type ModelRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// Rates maps model IDs to their pricing.
type Rates map[string]ModelRate

// Calculator computes oracle call costs.
type Calculator struct {
	rates    Rates
	fallback ModelRate
}

// NewCalculator creates a Calculator with the given rates. Models without an
// explicit rate are priced at the most expensive configured rate so unknown
// models never look free to the budget ledger.
func NewCalculator(rates Rates) *Calculator {
	c := &Calculator{rates: rates}
	for _, r := range rates {
		if r.InputPer1K+r.OutputPer1K > c.fallback.InputPer1K+c.fallback.OutputPer1K {
			c.fallback = r
		}
	}
	return c
}

// Rate returns the pricing for model and whether it was configured.
func (c *Calculator) Rate(model string) (ModelRate, bool) {
	r, ok := c.rates[model]
	if !ok {
		return c.fallback, false
	}
	return r, true
}

// Call computes inputTokens/1000*inputRate + outputTokens/1000*outputRate.
func (c *Calculator) Call(model string, inputTokens, outputTokens int64) float64 {
	r, _ := c.Rate(model)
	return Compute(r, inputTokens, outputTokens)
}

// Compute prices a token count against an explicit rate.
func Compute(r ModelRate, inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)/1000)*r.InputPer1K + (float64(outputTokens)/1000)*r.OutputPer1K
}

// DefaultRates returns the default pricing table.
func DefaultRates() Rates {
	return Rates{
		"claude-sonnet-4-5-20250929": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-haiku-4-5-20251001":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"claude-opus-4-6":            {InputPer1K: 0.015, OutputPer1K: 0.075},
		"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
	}
}
