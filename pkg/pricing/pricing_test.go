package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldnote/dex/pkg/pricing"
)

func TestCost_KnownModel(t *testing.T) {
	got := pricing.Cost("claude-sonnet-4-5", 1000, 500)
	assert.InDelta(t, 0.003+0.0075, got, 1e-9)
}

func TestCost_UnknownModelFallsBackToDefault(t *testing.T) {
	got := pricing.Cost("some-future-model", 1000, 1000)
	assert.InDelta(t, 0.003+0.015, got, 1e-9)
}

func TestFor_UnknownModelIsNeverFree(t *testing.T) {
	e := pricing.For("unreleased-model")
	assert.Greater(t, e.InputPer1K, 0.0)
	assert.Greater(t, e.OutputPer1K, 0.0)
}
