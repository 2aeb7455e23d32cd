package ioparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NoAnimalsFoundAnyCase(t *testing.T) {
	for _, s := range []string{"NO ANIMALS FOUND", "no animals found", "No Animals Found", "  no animals found  "} {
		assert.Empty(t, Parse(s), "input %q must parse to empty list", s)
	}
}

func TestParse_SingleEntity(t *testing.T) {
	entities := Parse("Vulpes vulpes (Red Fox)")
	require.Len(t, entities, 1)
	assert.Equal(t, "Vulpes", entities[0].Genus)
	assert.Equal(t, "vulpes", entities[0].Species)
	assert.Equal(t, "Red Fox", entities[0].CommonName)
	assert.InDelta(t, 0.9, entities[0].Confidence, 1e-9)
}

func TestParse_MultipleEntitiesDecreasingConfidence(t *testing.T) {
	entities := Parse("Vulpes vulpes (Red Fox) | Sciurus carolinensis (Eastern Gray Squirrel)")
	require.Len(t, entities, 2)
	assert.Equal(t, "Vulpes", entities[0].Genus)
	assert.InDelta(t, 0.9, entities[0].Confidence, 1e-9)
	assert.Equal(t, "Sciurus", entities[1].Genus)
	assert.Equal(t, "carolinensis", entities[1].Species)
	assert.InDelta(t, 0.8, entities[1].Confidence, 1e-9)
}

func TestParse_WithSubspecies(t *testing.T) {
	entities := Parse("Canis lupus familiaris (Domestic Dog)")
	require.Len(t, entities, 1)
	assert.Equal(t, "lupus", entities[0].Species)
	assert.Equal(t, "familiaris", entities[0].Subspecies)
}

func TestParse_StripsMarkdownEmphasis(t *testing.T) {
	entities := Parse("*Vulpes vulpes* (Red Fox)")
	require.Len(t, entities, 1)
	assert.Equal(t, "Vulpes", entities[0].Genus)
}

func TestParse_CommaSeparatedGenusSpecies(t *testing.T) {
	entities := Parse("Vulpes, vulpes (Red Fox)")
	require.Len(t, entities, 1)
	assert.Equal(t, "Vulpes", entities[0].Genus)
	assert.Equal(t, "vulpes", entities[0].Species)
}

func TestParse_UnmatchedEntryDropped(t *testing.T) {
	entities := Parse("not a valid entry | Vulpes vulpes (Red Fox)")
	require.Len(t, entities, 1)
	assert.Equal(t, "Vulpes", entities[0].Genus)
}

func TestParse_NoCommonNameOptional(t *testing.T) {
	entities := Parse("Vulpes vulpes")
	require.Len(t, entities, 1)
	assert.Empty(t, entities[0].CommonName)
}

func TestParse_ConfidenceNeverNegative(t *testing.T) {
	// 12 entries: from index 9 on, 0.9 - 0.1*i reaches 0 or goes below it
	// (-0.1, -0.2 at indices 10 and 11), so the score must be clamped at 0.
	s := ""
	for i := 0; i < 12; i++ {
		if i > 0 {
			s += " | "
		}
		s += "Vulpes vulpes"
	}
	entities := Parse(s)
	for _, e := range entities {
		assert.GreaterOrEqual(t, e.Confidence, 0.0)
	}
}

func TestRoundTrip_FormatThenParse(t *testing.T) {
	original := []Entity{
		{Genus: "Vulpes", Species: "vulpes", CommonName: "Red Fox", Confidence: 0.9},
		{Genus: "Sciurus", Species: "carolinensis", Subspecies: "", CommonName: "Eastern Gray Squirrel", Confidence: 0.8},
	}
	serialized := FormatAll(original)
	reparsed := Parse(serialized)
	require.Len(t, reparsed, len(original))
	for i := range original {
		assert.Equal(t, original[i].Genus, reparsed[i].Genus)
		assert.Equal(t, original[i].Species, reparsed[i].Species)
		assert.Equal(t, original[i].CommonName, reparsed[i].CommonName)
	}
}

func TestFormatAll_EmptyYieldsNoAnimalsFound(t *testing.T) {
	assert.Equal(t, "NO ANIMALS FOUND", FormatAll(nil))
}
