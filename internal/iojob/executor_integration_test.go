package iojob_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote/dex/internal/ioanimal"
	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/iojob"
	"github.com/fieldnote/dex/internal/iotesting"
	"github.com/fieldnote/dex/internal/iovision"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

type fakeVision struct {
	text string
	err  error
}

func (f *fakeVision) Identify(_ context.Context, _ []byte, _, _ string) (iovision.Prediction, error) {
	if f.err != nil {
		return iovision.Prediction{}, f.err
	}
	return iovision.Prediction{Text: f.text, CostUSD: 0.01, ProcessingTime: time.Millisecond}, nil
}
func (f *fakeVision) Name() string { return "fake" }

type fakeConversions struct{ data []byte }

func (f *fakeConversions) Download(_ context.Context, _, _ uuid.UUID) ([]byte, error) { return f.data, nil }
func (f *fakeConversions) Bind(_ context.Context, _ uuid.UUID) error                  { return nil }

type fakeBlobs struct{}

func (fakeBlobs) Get(_ context.Context, _ string) ([]byte, error) { return nil, nil }

type memReconciler struct {
	taxon *schema.ReferenceTaxon
}

func (m *memReconciler) Reconcile(_ context.Context, _ ioreconcile.Query) (ioreconcile.Result, error) {
	if m.taxon == nil {
		return ioreconcile.Result{Message: "no match"}, nil
	}
	return ioreconcile.Result{Taxon: m.taxon}, nil
}

func TestExecutor_Run_CompletesJobWithDetections(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()

	taxon := &schema.ReferenceTaxon{TaxonID: uuid.New(), ScientificName: "Vulpes vulpes", Genus: "Vulpes", SpecificEpithet: "vulpes"}
	require.NoError(t, gdb.Create(taxon).Error)

	animals := ioanimal.New(gdb)
	exec := iojob.New(gdb, &fakeVision{text: "Vulpes vulpes (Red Fox)"}, &memReconciler{taxon: taxon}, animals,
		&fakeConversions{data: []byte("img")}, fakeBlobs{}, nil)

	jobID, err := exec.Submit(ctx, iojob.SubmitParams{
		UserID:       uuid.New(),
		ConversionID: uuidPtr(uuid.New()),
		CVMethod:     "vision",
		ModelName:    "claude-sonnet-4-5",
		DetailLevel:  "standard",
	})
	require.NoError(t, err)

	require.NoError(t, exec.Run(ctx, jobID))

	var job schema.AnalysisJob
	require.NoError(t, gdb.First(&job, "job_id = ?", jobID).Error)
	assert.Equal(t, schema.JobCompleted, job.Status)
	require.Len(t, job.DetectedAnimals, 1)
	assert.NotNil(t, job.DetectedAnimals[0].AnimalID)
	assert.NotNil(t, job.IdentifiedAnimalID)
}

func TestExecutor_Run_TransientErrorReschedulesWithinRetryLimit(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()

	animals := ioanimal.New(gdb)
	exec := iojob.New(gdb, &fakeVision{err: errcode.UpstreamTransient("rate limited", nil)}, &memReconciler{}, animals,
		&fakeConversions{data: []byte("img")}, fakeBlobs{}, nil)

	jobID, err := exec.Submit(ctx, iojob.SubmitParams{
		UserID:       uuid.New(),
		ConversionID: uuidPtr(uuid.New()),
		ModelName:    "claude-sonnet-4-5",
	})
	require.NoError(t, err)

	require.NoError(t, exec.Run(ctx, jobID))

	var job schema.AnalysisJob
	require.NoError(t, gdb.First(&job, "job_id = ?", jobID).Error)
	assert.Equal(t, schema.JobPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}

func TestExecutor_SelectAnimal_ValidatesBounds(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()

	animals := ioanimal.New(gdb)
	exec := iojob.New(gdb, &fakeVision{}, &memReconciler{}, animals, &fakeConversions{}, fakeBlobs{}, nil)

	jobID := uuid.New()
	require.NoError(t, gdb.Create(&schema.AnalysisJob{
		JobID:  jobID,
		UserID: uuid.New(),
		Status: schema.JobCompleted,
		DetectedAnimals: schema.DetectedAnimals{
			{ScientificName: "Vulpes vulpes"},
		},
	}).Error)

	bad := 5
	err := exec.SelectAnimal(ctx, jobID, &bad, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.ValidationError, errcode.CodeOf(err))

	ok := 0
	require.NoError(t, exec.SelectAnimal(ctx, jobID, &ok, nil))
}

func uuidPtr(u uuid.UUID) *uuid.UUID { return &u }
