package ioimporter

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// nameUsageFile is the main staged table (spec §4.6 stage 4).
const nameUsageFile = "NameUsage.tsv"

// kindKey discriminates NameUsage rows from the optional NameRelation/
// VernacularName rows staged alongside them, all into RawReferenceRow,
// resolved into their own tables during normalization once the referenced
// taxon's UUID is known.
const kindKey = "_kind"

const (
	kindNameUsage = "name_usage"
	kindRelation  = "name_relation"
	kindVernacular = "vernacular_name"
)

// StageResult reports stage 4 outcomes (spec §4.6 stage 4: "track error
// count and first N error messages").
type StageResult struct {
	RowsStaged   int
	ErrorCount   int
	FirstErrors  []string
}

const maxFirstErrors = 20

// StageSource parses extractDir's TSV files into RawReferenceRow, bulk
// inserting in batches of batchSize. Every row is retained regardless of
// its status column (spec §4.6 stage 4); on a batch failure the batch is
// retried one row at a time to isolate the bad record.
func StageSource(db *gorm.DB, jobID uuid.UUID, source string, extractDir string, batchSize int) (StageResult, error) {
	var result StageResult

	staged, err := stageTSV(filepath.Join(extractDir, nameUsageFile), kindNameUsage, jobID, source)
	if err != nil {
		return result, errcode.New(errcode.ImportStagingError, "failed to read "+nameUsageFile, err)
	}

	optional := stageOptionalFiles(extractDir, jobID, source)
	staged = append(staged, optional...)

	for i := 0; i < len(staged); i += batchSize {
		end := min(i+batchSize, len(staged))
		batch := staged[i:end]
		if err := db.CreateInBatches(batch, len(batch)).Error; err != nil {
			n, errs := stageRowByRow(db, batch)
			result.RowsStaged += n
			result.ErrorCount += len(batch) - n
			for _, e := range errs {
				if len(result.FirstErrors) < maxFirstErrors {
					result.FirstErrors = append(result.FirstErrors, e)
				}
			}
			continue
		}
		result.RowsStaged += len(batch)
	}

	return result, nil
}

// stageOptionalFiles parses NameRelation.tsv and VernacularName.tsv (spec
// §4.6 stage 4) concurrently, since each is an independent file read; a
// parse failure on either is not fatal to staging the required file.
func stageOptionalFiles(extractDir string, jobID uuid.UUID, source string) []schema.RawReferenceRow {
	names := presentOptionalFiles(extractDir)
	results := make([][]schema.RawReferenceRow, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			kind := kindRelation
			if name == "VernacularName.tsv" {
				kind = kindVernacular
			}
			rows, err := stageTSV(filepath.Join(extractDir, name), kind, jobID, source)
			if err != nil {
				return nil // optional files: a parse failure is not fatal to staging
			}
			results[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	var staged []schema.RawReferenceRow
	for _, rows := range results {
		staged = append(staged, rows...)
	}
	return staged
}

// stageRowByRow isolates per-row failures after a batch insert fails
// (spec §4.6 stage 4).
func stageRowByRow(db *gorm.DB, rows []schema.RawReferenceRow) (int, []string) {
	inserted := 0
	var errs []string
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			errs = append(errs, err.Error())
			continue
		}
		inserted++
	}
	return inserted, errs
}

// stageTSV reads a `col:`-header TSV file into RawReferenceRow records,
// not yet persisted.
func stageTSV(path, kind string, jobID uuid.UUID, source string) ([]schema.RawReferenceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	columns := normalizeHeader(header)

	idIdx := columnIndex(columns, "id")

	var rows []schema.RawReferenceRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // malformed row, skipped (not counted as staged)
		}

		colMap := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				colMap[col] = record[i]
			}
		}
		colMap[kindKey] = kind

		sourceTaxonID := ""
		if idIdx >= 0 && idIdx < len(record) {
			sourceTaxonID = record[idIdx]
		}

		raw, err := json.Marshal(colMap)
		if err != nil {
			continue
		}

		rows = append(rows, schema.RawReferenceRow{
			ID:            uuid.New(),
			ImportJobID:   jobID,
			Source:        source,
			SourceTaxonID: sourceTaxonID,
			Columns:       string(raw),
		})
	}
	return rows, nil
}

// normalizeHeader strips the `col:` prefix TSV headers carry and
// lowercases the remainder.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		h = strings.TrimPrefix(h, "col:")
		out[i] = strings.ToLower(h)
	}
	return out
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
