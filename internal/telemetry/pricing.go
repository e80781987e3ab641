package telemetry

import "strings"

// Price is the USD cost per one million tokens.
type Price struct {
	Input       float64
	CachedInput float64
	Output      float64
}

// DefaultPrices are list prices for common models.
var DefaultPrices = map[string]Price{
	"gpt-4o-mini":  {Input: 0.15, CachedInput: 0.075, Output: 0.60},
	"gpt-4o":       {Input: 2.50, CachedInput: 1.25, Output: 10.00},
	"gpt-4.1-nano": {Input: 0.10, CachedInput: 0.025, Output: 0.40},
	"gpt-4.1-mini": {Input: 0.40, CachedInput: 0.10, Output: 1.60},
	"gpt-4.1":      {Input: 2.00, CachedInput: 0.50, Output: 8.00},
}

// Pricing resolves model names to prices.
type Pricing struct {
	prices map[string]Price
}

// NewPricing starts from DefaultPrices and applies overrides on top.
func NewPricing(overrides map[string]Price) *Pricing {
	prices := make(map[string]Price, len(DefaultPrices)+len(overrides))
	for k, v := range DefaultPrices {
		prices[k] = v
	}
	for k, v := range overrides {
		prices[strings.ToLower(k)] = v
	}
	return &Pricing{prices: prices}
}

// Lookup finds the price for model. Dated snapshots such as
// "gpt-4o-mini-2024-07-18" resolve to the longest matching prefix.
func (p *Pricing) Lookup(model string) (Price, bool) {
	model = strings.ToLower(model)
	if price, ok := p.prices[model]; ok {
		return price, true
	}

	best := ""
	for name := range p.prices {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return p.prices[best], true
}

// Cost returns the USD cost of usage on model. Cached prompt tokens are
// billed at the cached rate when one is set. Unknown models cost zero and
// report false.
func (p *Pricing) Cost(model string, u Usage) (float64, bool) {
	price, ok := p.Lookup(model)
	if !ok {
		return 0, false
	}

	cached := u.CachedTokens
	if cached > u.PromptTokens {
		cached = u.PromptTokens
	}
	cachedRate := price.CachedInput
	if cachedRate == 0 {
		cachedRate = price.Input
	}

	cost := float64(u.PromptTokens-cached)*price.Input +
		float64(cached)*cachedRate +
		float64(u.CompletionTokens)*price.Output
	return cost / 1_000_000, true
}
