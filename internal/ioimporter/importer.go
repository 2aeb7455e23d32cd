package ioimporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// jobMetadata is the small envelope persisted into ImportJob.Metadata
// between stages (spec §4.6 Idempotency: a resumed job must recover the
// export URL it discovered without re-running discovery).
type jobMetadata struct {
	ExportURL string `json:"export_url"`
}

// retryBackoffs is the bounded exponential backoff schedule for a failed
// import job (spec §4.6: "3 attempts: 5m, 15m, 45m").
var retryBackoffs = []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}

// Importer runs the Reference Importer (C6) pipeline for one source at a
// time, persisting stage transitions into ImportJob.
type Importer struct {
	db      *gorm.DB
	client  *http.Client
	workDir string
}

// New constructs an Importer. workDir is where archives are downloaded
// and extracted (spec §4.6 stage 2/3).
func New(db *gorm.DB, workDir string) *Importer {
	return &Importer{
		db:      db,
		client:  &http.Client{Timeout: archiveTransportTimeout * time.Second},
		workDir: workDir,
	}
}

// Run executes (or resumes) the import pipeline for source. Import Jobs
// are exclusive per source: while one is active, Run creates no second
// job and does not refuse the call either; it resumes the active job at
// its current status.
func (imp *Importer) Run(ctx context.Context, source Source, batchConfig BatchConfig) error {
	active, err := imp.activeJob(source.ID)
	if err != nil {
		return err
	}

	var job schema.ImportJob
	if active != nil {
		job = *active
		slog.Info("resuming import job", "source", source.ID, "status", job.Status)
	} else {
		job = schema.ImportJob{
			ID:     uuid.New(),
			Source: source.ID,
			Status: schema.ImportPending,
		}
		if err := imp.db.Create(&job).Error; err != nil {
			return errcode.New(errcode.ImportStagingError, "cannot create import job", err)
		}
	}

	if err := imp.runFrom(ctx, &job, source, batchConfig); err != nil {
		imp.fail(&job, err)
		return err
	}
	return nil
}

// BatchConfig carries the staging/normalize batch sizes from pkg/config's
// ImportConfig (spec §4.6 stage 4/5).
type BatchConfig struct {
	StagingBatchSize   int
	NormalizeBatchSize int
}

// activeJob returns the in-flight job for source, if any (spec §5:
// "Import Jobs are exclusive per source").
func (imp *Importer) activeJob(sourceID string) (*schema.ImportJob, error) {
	var job schema.ImportJob
	err := imp.db.Where("source = ? AND status NOT IN ?", sourceID,
		[]schema.ImportStatus{schema.ImportCompleted, schema.ImportFailed, schema.ImportCancelled}).
		Order("created_at DESC").First(&job).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errcode.New(errcode.ImportStagingError, "failed to check for active job", err)
	}
	return &job, nil
}

// runFrom resumes the pipeline at job's current status (spec §4.6
// Idempotency: "restarting a job re-enters at its current status").
func (imp *Importer) runFrom(ctx context.Context, job *schema.ImportJob, source Source, batch BatchConfig) error {
	archivePath := filepath.Join(imp.workDir, source.ID+".zip")
	extractDir := filepath.Join(imp.workDir, source.ID)

	if job.Status == schema.ImportPending {
		exportURL, err := Discover(ctx, imp.client, source)
		if err != nil {
			return err
		}
		raw, _ := json.Marshal(jobMetadata{ExportURL: exportURL})
		job.Metadata = string(raw)
		imp.transition(job, schema.ImportDownloading)
	}

	if job.Status == schema.ImportDownloading {
		exportURL := exportURLOf(job.Metadata)
		if err := Download(ctx, imp.client, exportURL, archivePath); err != nil {
			return err
		}
		job.FilePath = archivePath
		imp.transition(job, schema.ImportValidating)
	}

	if job.Status == schema.ImportValidating {
		if err := ValidateArchive(archivePath, extractDir); err != nil {
			return err
		}
		if meta, err := ReadMetadata(extractDir); err == nil {
			job.Version = meta.Version
		}
		imp.transition(job, schema.ImportProcessing)
	}

	if job.Status == schema.ImportProcessing {
		staged, err := StageSource(imp.db, job.ID, source.ID, extractDir, batch.StagingBatchSize)
		if err != nil {
			return err
		}
		job.RecordsTotal = staged.RowsStaged
		job.RecordsFailed = staged.ErrorCount
		slog.Info("staged reference rows", "source", source.ID,
			"staged", humanize.Comma(int64(staged.RowsStaged)), "errors", staged.ErrorCount)
		imp.transition(job, schema.ImportImporting)
	}

	if job.Status == schema.ImportImporting {
		result, err := Normalize(imp.db, job.ID, source.Priority, batch.NormalizeBatchSize)
		if err != nil {
			return err
		}
		job.RecordsImported = result.Processed
		job.RecordsFailed += result.ErrorCount
		imp.transition(job, schema.ImportCompleted)
		slog.Info("import completed", "source", source.ID,
			"imported", humanize.Comma(int64(result.Processed)), "errors", result.ErrorCount)
	}

	return nil
}

func (imp *Importer) transition(job *schema.ImportJob, status schema.ImportStatus) {
	job.Status = status
	imp.db.Model(&schema.ImportJob{}).Where("id = ?", job.ID).Updates(map[string]any{
		"status":           status,
		"version":          job.Version,
		"records_total":    job.RecordsTotal,
		"records_imported": job.RecordsImported,
		"records_failed":   job.RecordsFailed,
		"file_path":        job.FilePath,
		"metadata":         job.Metadata,
	})
}

// fail records the error and increments retry_count. Status stays at the
// stage that failed, so a later Run call (the caller's scheduler owns the
// NextRetryDelay wait) resumes from there; once retry_count reaches
// len(retryBackoffs) the job is marked failed and is no longer resumed.
func (imp *Importer) fail(job *schema.ImportJob, cause error) {
	job.RetryCount++
	job.ErrorLog = cause.Error()
	updates := map[string]any{
		"retry_count": job.RetryCount,
		"error_log":   job.ErrorLog,
	}
	if job.RetryCount >= len(retryBackoffs) {
		updates["status"] = schema.ImportFailed
	}
	imp.db.Model(&schema.ImportJob{}).Where("id = ?", job.ID).Updates(updates)
}

// NextRetryDelay returns how long a scheduler should wait before re-
// invoking Run for a job that has failed retryCount times so far.
func NextRetryDelay(retryCount int) time.Duration {
	if retryCount >= len(retryBackoffs) {
		return 0
	}
	return retryBackoffs[retryCount]
}

func exportURLOf(metadataJSON string) string {
	var m jobMetadata
	_ = json.Unmarshal([]byte(metadataJSON), &m)
	return m.ExportURL
}
