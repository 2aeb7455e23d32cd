// Package iojob implements the Job Executor (C7): runs the Image
// Normalizer (if needed), Vision Client, Prediction Parser, and Taxonomy
// Reconciler over one Analysis Job, manages the pending/processing/
// completed/failed state machine, and schedules async retries with
// exponential backoff (spec §4.7).
package iojob

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/ioimage"
	"github.com/fieldnote/dex/internal/ioparser"
	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/iovision"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// MaxRetries caps the executor's own Transient-error retry loop (spec §4.7
// step 3: "up to 3 attempts").
const MaxRetries = 3

// baseBackoff is the first retry delay; each subsequent retry doubles it
// (spec §4.7: "60s · 2^retry_count"). Grounded on
// original_source/server/vision/tasks.py (countdown = 60 * 2**retry_count).
const baseBackoff = 60 * time.Second

var tracer = otel.Tracer("github.com/fieldnote/dex/internal/iojob")

// Conversions is the subset of ioconversion.Store the executor needs: the
// normalized bytes behind a bound conversion (spec §4.7 step 2).
type Conversions interface {
	Download(ctx context.Context, convID, userID uuid.UUID) ([]byte, error)
	Bind(ctx context.Context, convID uuid.UUID) error
}

// Blobs is the read side of ioconversion.Blobs, for the legacy raw-image
// flow that bypasses the Conversion Store entirely.
type Blobs interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Reconciler is the C5 capability the executor drives per entity.
type Reconciler interface {
	Reconcile(ctx context.Context, q ioreconcile.Query) (ioreconcile.Result, error)
}

// AnimalStore is the C4.8 capability the executor drives on a reconciler
// hit, and as a fallback when no Reference Taxon was found.
type AnimalStore interface {
	Upsert(ctx context.Context, taxon *schema.ReferenceTaxon, cvCommonName string, cvConfidence float64) (*schema.CanonicalAnimal, bool, error)
	CreateFromCV(ctx context.Context, genus, species, scientificName, commonName string) (*schema.CanonicalAnimal, bool, error)
}

// Scheduler hands a job off to asynchronous execution. Submit and Retry
// call it only after their own transaction commits (spec §4.7: "schedules
// async execution after the creating transaction commits, to avoid the
// worker racing the creator").
type Scheduler interface {
	Schedule(jobID uuid.UUID)
	ScheduleAfter(jobID uuid.UUID, delay time.Duration)
}

// Executor is the Job Executor (C7).
type Executor struct {
	db          *gorm.DB
	vision      iovision.Identifier
	reconciler  Reconciler
	animals     AnimalStore
	conversions Conversions
	blobs       Blobs
	scheduler   Scheduler
}

// New constructs an Executor. scheduler may be nil for tests that drive
// Run directly without going through Submit's async hand-off.
func New(db *gorm.DB, vision iovision.Identifier, reconciler Reconciler, animals AnimalStore, conversions Conversions, blobs Blobs, scheduler Scheduler) *Executor {
	return &Executor{
		db:          db,
		vision:      vision,
		reconciler:  reconciler,
		animals:     animals,
		conversions: conversions,
		blobs:       blobs,
		scheduler:   scheduler,
	}
}

// SetScheduler wires the worker pool after construction, for callers that
// need the Executor itself (as a Runner) to build the pool in the first
// place — see cmd/dexd's serve wiring.
func (e *Executor) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// SubmitParams bundles Submit's input (spec §4.7).
type SubmitParams struct {
	UserID                 uuid.UUID
	ConversionID           *uuid.UUID
	RawImageRef            string
	PostConversionTransform ioimage.Transform
	CVMethod               string
	ModelName              string
	DetailLevel            string
}

// Submit creates the job in pending, binds the conversion if present, and
// schedules the first worker pass after the transaction commits.
func (e *Executor) Submit(ctx context.Context, p SubmitParams) (uuid.UUID, error) {
	if p.ConversionID == nil && p.RawImageRef == "" {
		return uuid.Nil, errcode.Validation("job requires a <em>conversion_id</em> or a <em>raw image</em>")
	}

	transformJSON, err := json.Marshal(p.PostConversionTransform)
	if err != nil {
		return uuid.Nil, errcode.Internal("failed to serialize post-conversion transform", err)
	}

	jobID := uuid.New()
	job := schema.AnalysisJob{
		JobID:                         jobID,
		UserID:                        p.UserID,
		ConversionID:                  p.ConversionID,
		RawImageRef:                   p.RawImageRef,
		Status:                        schema.JobPending,
		CVMethod:                      p.CVMethod,
		ModelName:                     p.ModelName,
		DetailLevel:                   p.DetailLevel,
		PostConversionTransformations: string(transformJSON),
		CreatedAt:                     time.Now(),
		UpdatedAt:                     time.Now(),
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&job).Error; err != nil {
			return errcode.Internal("failed to create job", err)
		}
		if p.ConversionID != nil {
			if err := e.conversions.Bind(ctx, *p.ConversionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	if e.scheduler != nil {
		e.scheduler.Schedule(jobID)
	}
	return jobID, nil
}

// Run executes one worker pass over jobID (spec §4.7 Worker pass,
// steps 1-6). It is idempotent with respect to the state machine: a job
// not in pending is left untouched and returned as-is.
func (e *Executor) Run(ctx context.Context, jobID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "iojob.Run", trace.WithAttributes(attribute.String("job_id", jobID.String())))
	defer span.End()

	var job schema.AnalysisJob
	if err := e.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.NotFound("job", jobID.String())
		}
		return errcode.Internal("failed to load job", err)
	}
	if job.Status != schema.JobPending {
		return nil
	}

	if err := e.transition(ctx, jobID, schema.JobProcessing, nil); err != nil {
		return err
	}

	image, err := e.resolveImage(ctx, &job)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, jobID, err)
	}

	prediction, err := e.vision.Identify(ctx, image, job.ModelName, job.DetailLevel)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.handleVisionError(ctx, &job, err)
	}
	span.SetAttributes(attribute.Float64("cost_usd", prediction.CostUSD))

	entities := ioparser.Parse(prediction.Text)
	detected, firstAnimalID, err := e.reconcileEntities(ctx, entities)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, jobID, err)
	}
	span.SetAttributes(attribute.Int("detected_count", len(detected)))

	updates := map[string]any{
		"status":              schema.JobCompleted,
		"raw_response":        prediction.Raw,
		"parsed_prediction":   prediction.Text,
		"detected_animals":    detected,
		"cost_usd":            prediction.CostUSD,
		"processing_time_ms":  prediction.ProcessingTime.Milliseconds(),
		"input_tokens":        prediction.Usage.InputTokens,
		"output_tokens":       prediction.Usage.OutputTokens,
		"identified_animal_id": firstAnimalID,
		"error_message":       "",
		"updated_at":          time.Now(),
	}
	if err := e.db.WithContext(ctx).Model(&schema.AnalysisJob{}).Where("job_id = ?", jobID).Updates(updates).Error; err != nil {
		return errcode.Internal("failed to persist job completion", err)
	}
	return nil
}

// resolveImage returns the normalized bytes the vision call should see,
// running the legacy C1 normalization pass when the job has a raw image
// and no conversion attached yet (spec §4.7 step 2).
func (e *Executor) resolveImage(ctx context.Context, job *schema.AnalysisJob) ([]byte, error) {
	if job.ConversionID != nil {
		return e.conversions.Download(ctx, *job.ConversionID, job.UserID)
	}

	raw, err := e.blobs.Get(ctx, job.RawImageRef)
	if err != nil {
		return nil, errcode.Internal("failed to fetch raw image", err)
	}

	var transform ioimage.Transform
	if job.PostConversionTransformations != "" {
		if err := json.Unmarshal([]byte(job.PostConversionTransformations), &transform); err != nil {
			return nil, errcode.Internal("corrupt post-conversion transform", err)
		}
	}

	normalized, _, err := ioimage.Normalize(raw, "", ioimage.Options{Transform: transform, ApplyEXIFRotation: true})
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

// reconcileEntities runs C5 over each parsed entity, upserting a Canonical
// Animal per hit (spec §4.7 step 5). A reconciler miss still records the
// entity, backed by a bare unverified animal created straight from the CV
// prediction, rather than dropping the detection.
func (e *Executor) reconcileEntities(ctx context.Context, entities []ioparser.Entity) (schema.DetectedAnimals, *uuid.UUID, error) {
	detected := make(schema.DetectedAnimals, 0, len(entities))
	var firstAnimalID *uuid.UUID

	for _, ent := range entities {
		result, err := e.reconciler.Reconcile(ctx, ioreconcile.FromEntity(ent, ""))
		if err != nil {
			return nil, nil, err
		}

		d := schema.DetectedAnimal{
			ScientificName: ent.Genus + " " + ent.Species,
			CommonName:     ent.CommonName,
			Confidence:     ent.Confidence,
		}

		var animal *schema.CanonicalAnimal
		var created bool
		if result.Taxon != nil {
			animal, created, err = e.animals.Upsert(ctx, result.Taxon, ent.CommonName, ent.Confidence)
		} else {
			animal, created, err = e.animals.CreateFromCV(ctx, ent.Genus, ent.Species, d.ScientificName, ent.CommonName)
		}
		if err != nil {
			return nil, nil, err
		}

		d.ScientificName = animal.ScientificName
		d.AnimalID = &animal.AnimalID
		d.IsNew = created
		if firstAnimalID == nil {
			firstAnimalID = &animal.AnimalID
		}

		detected = append(detected, d)
	}
	return detected, firstAnimalID, nil
}

// handleVisionError applies spec §4.7 step 3: Transient errors increment
// retry_count and reschedule with exponential backoff up to MaxRetries;
// Fatal errors (or exhausting retries) transition straight to failed.
func (e *Executor) handleVisionError(ctx context.Context, job *schema.AnalysisJob, visionErr error) error {
	if errcode.CodeOf(visionErr) != errcode.UpstreamTransientError || job.RetryCount >= MaxRetries {
		return e.fail(ctx, job.JobID, visionErr)
	}

	nextRetry := job.RetryCount + 1
	err := e.db.WithContext(ctx).Model(&schema.AnalysisJob{}).
		Where("job_id = ?", job.JobID).
		Updates(map[string]any{
			"status":      schema.JobPending,
			"retry_count": nextRetry,
			"updated_at":  time.Now(),
		}).Error
	if err != nil {
		return errcode.Internal("failed to record retry", err)
	}

	if e.scheduler != nil {
		e.scheduler.ScheduleAfter(job.JobID, backoffFor(nextRetry))
	}
	return nil
}

// backoffFor returns the delay before the retryCount-th retry (1-based):
// 60s * 2^(retryCount-1), i.e. 60s, 120s, 240s (spec §4.7 step 3).
func backoffFor(retryCount int) time.Duration {
	return baseBackoff * time.Duration(1<<uint(retryCount-1))
}

func (e *Executor) transition(ctx context.Context, jobID uuid.UUID, status schema.JobStatus, extra map[string]any) error {
	updates := map[string]any{"status": status, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	err := e.db.WithContext(ctx).Model(&schema.AnalysisJob{}).Where("job_id = ?", jobID).Updates(updates).Error
	if err != nil {
		return errcode.Internal("failed to transition job", err)
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := cause.Error()
	err := e.db.WithContext(ctx).Model(&schema.AnalysisJob{}).Where("job_id = ?", jobID).Updates(map[string]any{
		"status":        schema.JobFailed,
		"error_message": msg,
		"updated_at":    time.Now(),
	}).Error
	if err != nil {
		slog.Error("failed to persist job failure", "job_id", jobID, "cause", msg, "err", err)
		return errcode.Internal("failed to persist job failure", err)
	}
	return cause
}

// SelectAnimal implements spec §4.7 SelectAnimal: validates detections
// exist, resolves animal_index or animal_id to an in-bounds index, and
// updates selected_index / identified_animal_id.
func (e *Executor) SelectAnimal(ctx context.Context, jobID uuid.UUID, animalIndex *int, animalID *uuid.UUID) error {
	var job schema.AnalysisJob
	if err := e.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.NotFound("job", jobID.String())
		}
		return errcode.Internal("failed to load job", err)
	}
	if len(job.DetectedAnimals) == 0 {
		return errcode.JobInvalidState("job <em>%s</em> has no detections to select from", jobID)
	}

	index := -1
	switch {
	case animalIndex != nil:
		if *animalIndex < 0 || *animalIndex >= len(job.DetectedAnimals) {
			return errcode.Validation("animal_index <em>%d</em> out of bounds", *animalIndex)
		}
		index = *animalIndex
	case animalID != nil:
		for i, d := range job.DetectedAnimals {
			if d.AnimalID != nil && *d.AnimalID == *animalID {
				index = i
				break
			}
		}
		if index == -1 {
			return errcode.Validation("animal_id <em>%s</em> not present in job detections", animalID)
		}
	default:
		return errcode.Validation("SelectAnimal requires <em>animal_index</em> or <em>animal_id</em>")
	}

	selected := job.DetectedAnimals[index]
	err := e.db.WithContext(ctx).Model(&schema.AnalysisJob{}).Where("job_id = ?", jobID).Updates(map[string]any{
		"selected_index":       index,
		"identified_animal_id": selected.AnimalID,
		"updated_at":           time.Now(),
	}).Error
	if err != nil {
		return errcode.Internal("failed to persist selected animal", err)
	}
	return nil
}

// Get returns jobID iff owned by userID (spec §6: GET /vision/jobs/{id}).
func (e *Executor) Get(ctx context.Context, jobID, userID uuid.UUID) (*schema.AnalysisJob, error) {
	var job schema.AnalysisJob
	err := e.db.WithContext(ctx).Where("job_id = ? AND user_id = ?", jobID, userID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errcode.NotFound("job", jobID.String())
	}
	if err != nil {
		return nil, errcode.Internal("failed to load job", err)
	}
	return &job, nil
}

// Retry implements spec §4.7: a client-issued retry on a failed job resets
// status to pending and clears error_message but preserves retry_count,
// then schedules a fresh worker pass after commit.
func (e *Executor) Retry(ctx context.Context, jobID uuid.UUID) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job schema.AnalysisJob
		if err := tx.First(&job, "job_id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errcode.NotFound("job", jobID.String())
			}
			return errcode.Internal("failed to load job", err)
		}
		if job.Status != schema.JobFailed {
			return errcode.JobInvalidState("job <em>%s</em> is not in a retryable state", jobID)
		}
		return tx.Model(&schema.AnalysisJob{}).Where("job_id = ?", jobID).Updates(map[string]any{
			"status":        schema.JobPending,
			"error_message": "",
			"updated_at":    time.Now(),
		}).Error
	})
	if err != nil {
		return err
	}

	if e.scheduler != nil {
		e.scheduler.Schedule(jobID)
	}
	return nil
}
