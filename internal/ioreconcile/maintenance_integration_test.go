package ioreconcile_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/iotesting"
	"github.com/fieldnote/dex/pkg/schema"
)

// Each maintenance test scopes its pass to a unique source id so runs
// against a shared test database never see each other's rows.
func maintenanceSource() string {
	return "mnt-" + uuid.NewString()[:8]
}

func TestRecheckSynonyms_LinksViaNameRelation(t *testing.T) {
	db := iotesting.OpenGORM(t)
	source := maintenanceSource()

	accepted := seedTaxon(t, db, schema.ReferenceTaxon{
		Source:          source,
		ScientificName:  "Canis familiaris",
		Rank:            schema.RankSpecies,
		Genus:           "Canis",
		SpecificEpithet: "familiaris",
	})
	synonym := seedTaxon(t, db, schema.ReferenceTaxon{
		Source:          source,
		ScientificName:  "Canis familliaris",
		Rank:            schema.RankSpecies,
		Genus:           "Canis",
		SpecificEpithet: "familliaris",
		Status:          schema.StatusSynonym,
	})
	require.NoError(t, db.Create(&schema.NameRelation{
		ID:                 uuid.New(),
		NameTaxonID:        synonym.TaxonID,
		RelatedNameTaxonID: accepted.TaxonID,
		Type:               schema.RelationSpellingCorrection,
	}).Error)

	r := ioreconcile.New(db, newMemCache())
	stats, err := r.RecheckSynonyms(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 1, stats.Relinked)

	var reloaded schema.ReferenceTaxon
	require.NoError(t, db.First(&reloaded, "taxon_id = ?", synonym.TaxonID).Error)
	require.NotNil(t, reloaded.AcceptedNameID)
	assert.Equal(t, accepted.TaxonID, *reloaded.AcceptedNameID)
}

func TestRecheckSynonyms_UnresolvableStaysUnlinked(t *testing.T) {
	db := iotesting.OpenGORM(t)
	source := maintenanceSource()

	synonym := seedTaxon(t, db, schema.ReferenceTaxon{
		Source:          source,
		ScientificName:  "Orphanus nomen",
		Rank:            schema.RankSpecies,
		Genus:           "Orphanus",
		SpecificEpithet: "nomen",
		Status:          schema.StatusSynonym,
	})

	r := ioreconcile.New(db, newMemCache())
	stats, err := r.RecheckSynonyms(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Examined)
	assert.Equal(t, 0, stats.Relinked)

	var reloaded schema.ReferenceTaxon
	require.NoError(t, db.First(&reloaded, "taxon_id = ?", synonym.TaxonID).Error)
	assert.Nil(t, reloaded.AcceptedNameID)
}

func TestRescoreCompleteness_RepairsDriftedScores(t *testing.T) {
	db := iotesting.OpenGORM(t)
	source := maintenanceSource()

	drifted := seedTaxon(t, db, schema.ReferenceTaxon{
		Source:            source,
		ScientificName:    "Vulpes vulpes",
		Rank:              schema.RankSpecies,
		Kingdom:           "Animalia",
		Phylum:            "Chordata",
		Class:             "Mammalia",
		Genus:             "Vulpes",
		SpecificEpithet:   "vulpes",
		CompletenessScore: 1.0,
	})
	correct := seedTaxon(t, db, schema.ReferenceTaxon{
		Source:            source,
		ScientificName:    "Canis lupus",
		Rank:              schema.RankSpecies,
		Kingdom:           "Animalia",
		Genus:             "Canis",
		SpecificEpithet:   "lupus",
		CompletenessScore: 2.0 / 6.0,
	})

	r := ioreconcile.New(db, newMemCache())
	stats, err := r.RescoreCompleteness(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Examined)
	assert.Equal(t, 1, stats.Rescored)

	var reloaded schema.ReferenceTaxon
	require.NoError(t, db.First(&reloaded, "taxon_id = ?", drifted.TaxonID).Error)
	assert.InDelta(t, 4.0/6.0, reloaded.CompletenessScore, 1e-9)

	require.NoError(t, db.First(&reloaded, "taxon_id = ?", correct.TaxonID).Error)
	assert.InDelta(t, 2.0/6.0, reloaded.CompletenessScore, 1e-9)
}
