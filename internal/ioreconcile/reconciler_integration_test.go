package ioreconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/iotesting"
	"github.com/fieldnote/dex/pkg/schema"
)

// memCache is a trivial in-process Cacher double so these tests don't need
// a live Redis just to exercise the database-backed matcher.
type memCache struct{ values map[string]any }

func newMemCache() *memCache { return &memCache{values: map[string]any{}} }

func (m *memCache) Get(_ context.Context, key string, dest any) (bool, error) {
	v, ok := m.values[key]
	if !ok {
		return false, nil
	}
	switch d := dest.(type) {
	case *ioreconcile.Result:
		*d = v.(ioreconcile.Result)
	}
	return true, nil
}

func (m *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.values[key] = value
	return nil
}

func seedTaxon(t *testing.T, db *gorm.DB, taxon schema.ReferenceTaxon) schema.ReferenceTaxon {
	t.Helper()
	if taxon.TaxonID == uuid.Nil {
		taxon.TaxonID = uuid.New()
	}
	if taxon.Source == "" {
		taxon.Source = "col"
	}
	if taxon.SourceTaxonID == "" {
		taxon.SourceTaxonID = taxon.TaxonID.String()
	}
	if taxon.Status == "" {
		taxon.Status = schema.StatusAccepted
	}
	require.NoError(t, db.Create(&taxon).Error)
	return taxon
}

func TestReconcile_ExactFieldMatch(t *testing.T) {
	db := iotesting.OpenGORM(t)
	seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Vulpes vulpes",
		Rank:            schema.RankSpecies,
		Genus:           "Vulpes",
		SpecificEpithet: "vulpes",
	})

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{Genus: "Vulpes", Species: "vulpes"})
	require.NoError(t, err)
	require.NotNil(t, result.Taxon)
	assert.Equal(t, "Vulpes vulpes", result.Taxon.ScientificName)
	assert.Equal(t, "exact field match", result.Message)
}

func TestReconcile_ExactFieldMatchHonorsSubspecies(t *testing.T) {
	db := iotesting.OpenGORM(t)
	seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:       "Canis lupus familiaris",
		Rank:                 schema.RankSubspecies,
		Genus:                "Canis",
		SpecificEpithet:      "lupus",
		InfraspecificEpithet: "familiaris",
	})
	seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Canis lupus",
		Rank:            schema.RankSpecies,
		Genus:           "Canis",
		SpecificEpithet: "lupus",
	})

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{Genus: "Canis", Species: "lupus"})
	require.NoError(t, err)
	require.NotNil(t, result.Taxon)
	assert.Empty(t, result.Taxon.InfraspecificEpithet, "no subspecies given must match the bare row, not the subspecies row")
}

func TestReconcile_ExactCommonNameMatch(t *testing.T) {
	db := iotesting.OpenGORM(t)
	taxon := seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Sciurus carolinensis",
		Rank:            schema.RankSpecies,
		Genus:           "Sciurus",
		SpecificEpithet: "carolinensis",
	})
	require.NoError(t, db.Create(&schema.CommonName{
		ID: uuid.New(), TaxonID: taxon.TaxonID, Name: "Eastern Gray Squirrel",
	}).Error)

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{
		Genus: "Unknown", Species: "unknown", CommonName: "Eastern Gray Squirrel",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Taxon)
	assert.Equal(t, "Sciurus carolinensis", result.Taxon.ScientificName)
}

func TestReconcile_SynonymResolvesViaAcceptedName(t *testing.T) {
	db := iotesting.OpenGORM(t)
	accepted := seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Canis familiaris",
		Rank:            schema.RankSpecies,
		Genus:           "Canis",
		SpecificEpithet: "familiaris",
		Status:          schema.StatusAccepted,
	})
	seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Canis lupus familiaris",
		Rank:            schema.RankSubspecies,
		Genus:           "Canis",
		SpecificEpithet: "lupus",
		Status:          schema.StatusSynonym,
		AcceptedNameID:  &accepted.TaxonID,
	})

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{Genus: "Canis", Species: "lupus"})
	require.NoError(t, err)
	require.NotNil(t, result.Taxon)
	assert.Equal(t, "Canis familiaris", result.Taxon.ScientificName)
	assert.Contains(t, result.Message, "accepted_name")
}

func TestReconcile_SynonymResolvesViaNameRelation(t *testing.T) {
	db := iotesting.OpenGORM(t)
	accepted := seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Canis familiaris",
		Rank:            schema.RankSpecies,
		Genus:           "Canis",
		SpecificEpithet: "familiaris",
		Status:          schema.StatusAccepted,
	})
	synonym := seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Canis domesticus",
		Rank:            schema.RankSpecies,
		Genus:           "Canis",
		SpecificEpithet: "domesticus",
		Status:          schema.StatusSynonym,
	})
	require.NoError(t, db.Create(&schema.NameRelation{
		ID: uuid.New(), NameTaxonID: synonym.TaxonID, RelatedNameTaxonID: accepted.TaxonID,
		Type: schema.RelationSpellingCorrection,
	}).Error)

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{Genus: "Canis", Species: "domesticus"})
	require.NoError(t, err)
	require.NotNil(t, result.Taxon)
	assert.Equal(t, "Canis familiaris", result.Taxon.ScientificName)
}

func TestReconcile_FieldRepairFillsFromScientificName(t *testing.T) {
	db := iotesting.OpenGORM(t)
	taxon := seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName: "Vulpes vulpes",
		Rank:           schema.RankSpecies,
	})

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{
		SourceScope: taxon.Source,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Taxon)

	var reloaded schema.ReferenceTaxon
	require.NoError(t, db.First(&reloaded, "taxon_id = ?", taxon.TaxonID).Error)
	assert.Equal(t, "Vulpes", reloaded.Genus)
	assert.Equal(t, "vulpes", reloaded.SpecificEpithet)
}

func TestReconcile_NoMatchReturnsNilTaxon(t *testing.T) {
	db := iotesting.OpenGORM(t)
	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{Genus: "Nonexistentus", Species: "animalus"})
	require.NoError(t, err)
	assert.Nil(t, result.Taxon)
}

func TestReconcile_CachesResult(t *testing.T) {
	db := iotesting.OpenGORM(t)
	seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Vulpes vulpes",
		Rank:            schema.RankSpecies,
		Genus:           "Vulpes",
		SpecificEpithet: "vulpes",
	})

	cache := newMemCache()
	r := ioreconcile.New(db, cache)
	q := ioreconcile.Query{Genus: "Vulpes", Species: "vulpes"}

	first, err := r.Reconcile(context.Background(), q)
	require.NoError(t, err)

	require.NoError(t, db.Where("1 = 1").Delete(&schema.ReferenceTaxon{}).Error)

	second, err := r.Reconcile(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first.Taxon.TaxonID, second.Taxon.TaxonID, "second call must be served from cache, not the now-empty table")
}

func TestReconcile_StatusDoubtfulIsExcludedFromMatching(t *testing.T) {
	db := iotesting.OpenGORM(t)
	seedTaxon(t, db, schema.ReferenceTaxon{
		ScientificName:  "Vulpes vulpes",
		Rank:            schema.RankSpecies,
		Genus:           "Vulpes",
		SpecificEpithet: "vulpes",
		Status:          schema.StatusDoubtful,
	})

	r := ioreconcile.New(db, newMemCache())
	result, err := r.Reconcile(context.Background(), ioreconcile.Query{Genus: "Vulpes", Species: "vulpes"})
	require.NoError(t, err)
	assert.Nil(t, result.Taxon)
}
