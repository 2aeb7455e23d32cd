package schema_test

import (
	"testing"

	"github.com/fieldnote/dex/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		model interface{ TableName() string }
		want  string
	}{
		{schema.User{}, "users"},
		{schema.ImageConversion{}, "image_conversions"},
		{schema.AnalysisJob{}, "analysis_jobs"},
		{schema.ReferenceTaxon{}, "reference_taxa"},
		{schema.NameRelation{}, "name_relations"},
		{schema.CommonName{}, "common_names"},
		{schema.CanonicalAnimal{}, "canonical_animals"},
		{schema.Observation{}, "observations"},
		{schema.Friendship{}, "friendships"},
		{schema.ImportJob{}, "import_jobs"},
		{schema.RawReferenceRow{}, "raw_reference_rows"},
		{schema.SchemaVersion{}, "schema_versions"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.model.TableName())
		})
	}
}

func TestCompletenessScoreFields(t *testing.T) {
	taxon := schema.ReferenceTaxon{
		Kingdom: "Animalia",
		Phylum:  "Chordata",
		Class:   "Mammalia",
		Order:   "Carnivora",
		Family:  "Canidae",
		Genus:   "Vulpes",
	}
	assert.Equal(t, "Animalia", taxon.Kingdom)
	assert.Equal(t, "Vulpes", taxon.Genus)
}

func TestDetectedAnimalsLiteral(t *testing.T) {
	animals := schema.DetectedAnimals{
		{ScientificName: "Vulpes vulpes", CommonName: "Red Fox", Confidence: 0.9, IsNew: true},
		{ScientificName: "Sciurus carolinensis", CommonName: "Eastern Gray Squirrel", Confidence: 0.8},
	}
	assert.Len(t, animals, 2)
	assert.True(t, animals[0].IsNew)
	assert.Nil(t, animals[0].AnimalID)
}

func TestJobStatusValues(t *testing.T) {
	assert.Equal(t, schema.JobStatus("pending"), schema.JobPending)
	assert.Equal(t, schema.JobStatus("processing"), schema.JobProcessing)
	assert.Equal(t, schema.JobStatus("completed"), schema.JobCompleted)
	assert.Equal(t, schema.JobStatus("failed"), schema.JobFailed)
}
