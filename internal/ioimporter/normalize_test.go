package ioimporter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote/dex/pkg/schema"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]schema.TaxonStatus{
		"accepted":               schema.StatusAccepted,
		"Accepted":               schema.StatusAccepted,
		"provisionally accepted": schema.StatusProvisional,
		"synonym":                schema.StatusSynonym,
		"ambiguous synonym":      schema.StatusAmbiguous,
		"misapplied":             schema.StatusMisapplied,
		"unrecognized-garbage":   schema.StatusDoubtful,
		"":                       schema.StatusDoubtful,
	}
	for raw, want := range cases {
		assert.Equal(t, want, mapStatus(raw), "input %q", raw)
	}
}

func TestMapCode(t *testing.T) {
	assert.Equal(t, schema.CodeICN, mapCode("botanical"))
	assert.Equal(t, schema.CodeICZN, mapCode("zoological"))
	assert.Equal(t, schema.CodeICTV, mapCode("virus"))
	assert.Equal(t, schema.CodeICNP, mapCode("bacterial"))
	assert.Empty(t, mapCode("unknown"))
}

func TestParseEnvironment_SplitsOnPipeOrComma(t *testing.T) {
	assert.Equal(t, []string{"marine", "freshwater"}, parseEnvironment("marine|freshwater"))
	assert.Equal(t, []string{"marine", "freshwater"}, parseEnvironment("Marine, Freshwater"))
}

func TestParseEnvironment_EmptyYieldsNil(t *testing.T) {
	assert.Nil(t, parseEnvironment(""))
	assert.Nil(t, parseEnvironment("   "))
}

func TestCompletenessScore_FullRecordIsOne(t *testing.T) {
	taxon := schema.ReferenceTaxon{
		Kingdom: "Animalia", Phylum: "Chordata", Class: "Mammalia",
		Order: "Carnivora", Family: "Canidae", Genus: "Vulpes", Species: "vulpes",
		Rank: schema.RankSpecies, Authorship: "Linnaeus, 1758",
	}
	assert.InDelta(t, 1.0, completenessScore(taxon), 1e-9)
}

func TestCompletenessScore_EmptyRecordIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, completenessScore(schema.ReferenceTaxon{}), 1e-9)
}

func TestCompletenessScore_CountsOnlyTheSixHierarchyFields(t *testing.T) {
	taxon := schema.ReferenceTaxon{
		Family: "Canidae", Genus: "Vulpes",
		Species: "vulpes", Rank: schema.RankSpecies, Authorship: "Linnaeus, 1758",
	}
	assert.InDelta(t, 2.0/6.0, completenessScore(taxon), 1e-9)
}

func TestNormalizeHeader_StripsColPrefixAndLowercases(t *testing.T) {
	got := normalizeHeader([]string{"col:ID", "col:scientificName", "Rank"})
	assert.Equal(t, []string{"id", "scientificname", "rank"}, got)
}

func TestColumnIndex(t *testing.T) {
	cols := []string{"id", "scientificname", "rank"}
	assert.Equal(t, 0, columnIndex(cols, "id"))
	assert.Equal(t, -1, columnIndex(cols, "missing"))
}

func TestExportURLOf_RoundTrips(t *testing.T) {
	raw, err := json.Marshal(jobMetadata{ExportURL: "https://example.org/export.zip"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/export.zip", exportURLOf(string(raw)))
}

func TestExportURLOf_MalformedYieldsEmpty(t *testing.T) {
	assert.Empty(t, exportURLOf("not json"))
}

func TestNextRetryDelay_FollowsBoundedSchedule(t *testing.T) {
	assert.Equal(t, retryBackoffs[0], NextRetryDelay(0))
	assert.Equal(t, retryBackoffs[1], NextRetryDelay(1))
	assert.Equal(t, retryBackoffs[2], NextRetryDelay(2))
	assert.Equal(t, 0*retryBackoffs[0], NextRetryDelay(3))
}

func TestFindSource(t *testing.T) {
	sources := DefaultSources()
	col, ok := FindSource(sources, "col")
	assert.True(t, ok)
	assert.Equal(t, "Catalogue of Life", col.TitleShort)

	_, ok = FindSource(sources, "nonexistent")
	assert.False(t, ok)
}
