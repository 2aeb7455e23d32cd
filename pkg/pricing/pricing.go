// Package pricing holds the per-model USD price table the Vision Client
// (C3) uses to cost a single Identify call. Re-keyed from the source
// benchmark's OPENAI_PRICING table onto the Anthropic model family this
// deployment actually calls.
package pricing

// Entry is the price of one call direction, in USD per 1,000 tokens.
type Entry struct {
	InputPer1K  float64
	OutputPer1K float64
}

// defaultEntry is used for any model not present in Table, so an unexpected
// model name never produces a zero-cost (silently free) job.
var defaultEntry = Entry{InputPer1K: 0.003, OutputPer1K: 0.015}

// Table maps model name to its price entry (spec §4.3, §6).
var Table = map[string]Entry{
	"claude-opus-4-5":   {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-sonnet-4-5": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-haiku-4-5":  {InputPer1K: 0.001, OutputPer1K: 0.005},
	"claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"claude-3-opus":     {InputPer1K: 0.015, OutputPer1K: 0.075},
}

// For looks up the price entry for model, falling back to a conservative
// default when the model is unrecognized.
func For(model string) Entry {
	if e, ok := Table[model]; ok {
		return e
	}
	return defaultEntry
}

// Cost computes the USD cost of a call given token counts (spec §4.3:
// cost = input_tokens * input_price + output_tokens * output_price).
func Cost(model string, inputTokens, outputTokens int) float64 {
	e := For(model)
	return float64(inputTokens)/1000*e.InputPer1K + float64(outputTokens)/1000*e.OutputPer1K
}
