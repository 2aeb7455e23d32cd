package ioimporter

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// NormalizeResult reports stage 5 outcomes.
type NormalizeResult struct {
	Processed  int
	ErrorCount int
}

// Normalize runs stage 5 (spec §4.6): snapshot the set of unprocessed raw
// row IDs for jobID, then process in batches of batchSize. Iterating a
// live filter that mutates its own predicate (is_processed) as rows are
// marked would cause re-visitation or skips; the snapshot makes the set
// being iterated immutable for the duration of this call.
//
// sourcePriority is the registry priority of the source being imported
// (Source.Priority); it is denormalized onto every taxon because the
// reconciler orders candidates by source_priority first.
func Normalize(db *gorm.DB, jobID uuid.UUID, sourcePriority, batchSize int) (NormalizeResult, error) {
	var result NormalizeResult

	var ids []uuid.UUID
	err := db.Model(&schema.RawReferenceRow{}).
		Where("import_job_id = ? AND is_processed = ?", jobID, false).
		Pluck("id", &ids).Error
	if err != nil {
		return result, errcode.New(errcode.ImportNormalizationError, "failed to snapshot unprocessed rows", err)
	}

	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		batch := ids[i:end]

		var rawRows []schema.RawReferenceRow
		if err := db.Where("id IN ?", batch).Find(&rawRows).Error; err != nil {
			return result, errcode.New(errcode.ImportNormalizationError, "failed to load raw row batch", err)
		}

		for _, row := range rawRows {
			if err := normalizeRow(db, row, sourcePriority); err != nil {
				result.ErrorCount++
				markProcessed(db, row.ID, err.Error())
				continue
			}
			result.Processed++
			markProcessed(db, row.ID, "")
		}
	}

	return result, nil
}

func markProcessed(db *gorm.DB, id uuid.UUID, errMsg string) {
	db.Model(&schema.RawReferenceRow{}).Where("id = ?", id).
		Updates(map[string]any{"is_processed": true, "processing_errors": errMsg})
}

// normalizeRow upserts the Reference Taxon (or links a staged relation/
// vernacular row) from one raw row (spec §4.6 stage 5). Errors are
// isolated per row; a failure here never aborts the batch.
func normalizeRow(db *gorm.DB, row schema.RawReferenceRow, sourcePriority int) error {
	var cols map[string]string
	if err := json.Unmarshal([]byte(row.Columns), &cols); err != nil {
		return errcode.New(errcode.ImportNormalizationError, "malformed staged row", err)
	}

	switch cols[kindKey] {
	case kindRelation:
		return normalizeRelation(db, row, cols)
	case kindVernacular:
		return normalizeVernacular(db, row, cols)
	default:
		return normalizeTaxon(db, row, cols, sourcePriority)
	}
}

func normalizeTaxon(db *gorm.DB, row schema.RawReferenceRow, cols map[string]string, sourcePriority int) error {
	taxon := schema.ReferenceTaxon{
		Source:               row.Source,
		SourcePriority:       sourcePriority,
		SourceTaxonID:        row.SourceTaxonID,
		ScientificName:       cols["scientificname"],
		Authorship:           cols["authorship"],
		Rank:                 schema.TaxonRank(strings.ToLower(cols["rank"])),
		Kingdom:              cols["kingdom"],
		Phylum:               cols["phylum"],
		Class:                cols["class"],
		Order:                cols["order"],
		Family:               cols["family"],
		Genus:                cols["genus"],
		Species:              cols["species"],
		GenericName:          cols["genericname"],
		SpecificEpithet:      cols["specificepithet"],
		InfraspecificEpithet: cols["infraspecificepithet"],
		Status:               mapStatus(cols["status"]),
		Extinct:              cols["extinct"] == "true" || cols["extinct"] == "1",
		NomenclaturalCode:    mapCode(cols["code"]),
		SourceURL:            cols["link"],
	}

	env, _ := json.Marshal(parseEnvironment(cols["environment"]))
	taxon.Environment = string(env)
	taxon.CompletenessScore = completenessScore(taxon)
	taxon.ConfidenceScore = confidenceScore(cols)

	var existing schema.ReferenceTaxon
	err := db.Where("source = ? AND source_taxon_id = ?", taxon.Source, taxon.SourceTaxonID).First(&existing).Error
	if err == nil {
		taxon.TaxonID = existing.TaxonID
		taxon.CreatedAt = existing.CreatedAt
		return db.Model(&schema.ReferenceTaxon{}).Where("taxon_id = ?", existing.TaxonID).
			Updates(&taxon).Error
	}
	if err != gorm.ErrRecordNotFound {
		return errcode.New(errcode.ImportNormalizationError, "taxon upsert lookup failed", err)
	}

	taxon.TaxonID = uuid.New()
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&taxon).Error
}

func normalizeRelation(db *gorm.DB, row schema.RawReferenceRow, cols map[string]string) error {
	nameTaxon, ok := taxonBySourceID(db, row.Source, row.SourceTaxonID)
	if !ok {
		return nil // referenced ID absent from the main table: skip (spec §4.6 stage 4)
	}
	relatedTaxon, ok := taxonBySourceID(db, row.Source, cols["relatedid"])
	if !ok {
		return nil
	}

	rel := schema.NameRelation{
		ID:                 uuid.New(),
		NameTaxonID:        nameTaxon.TaxonID,
		RelatedNameTaxonID: relatedTaxon.TaxonID,
		Type:               schema.NameRelationType(strings.ToLower(cols["type"])),
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rel).Error
}

func normalizeVernacular(db *gorm.DB, row schema.RawReferenceRow, cols map[string]string) error {
	taxon, ok := taxonBySourceID(db, row.Source, row.SourceTaxonID)
	if !ok {
		return nil
	}

	cn := schema.CommonName{
		ID:          uuid.New(),
		TaxonID:     taxon.TaxonID,
		Name:        cols["name"],
		Language:    cols["language"],
		Country:     cols["country"],
		IsPreferred: cols["ispreferred"] == "true" || cols["ispreferred"] == "1",
	}
	return db.Clauses(clause.OnConflict{Columns: []clause.Column{
		{Name: "taxon_id"}, {Name: "name"}, {Name: "language"}, {Name: "country"},
	}, DoNothing: true}).Create(&cn).Error
}

func taxonBySourceID(db *gorm.DB, source, sourceTaxonID string) (schema.ReferenceTaxon, bool) {
	if sourceTaxonID == "" {
		return schema.ReferenceTaxon{}, false
	}
	var t schema.ReferenceTaxon
	err := db.Where("source = ? AND source_taxon_id = ?", source, sourceTaxonID).First(&t).Error
	return t, err == nil
}

// mapStatus implements spec §4.6 stage 5's status mapping.
func mapStatus(raw string) schema.TaxonStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accepted":
		return schema.StatusAccepted
	case "provisionally accepted":
		return schema.StatusProvisional
	case "synonym":
		return schema.StatusSynonym
	case "ambiguous synonym":
		return schema.StatusAmbiguous
	case "misapplied":
		return schema.StatusMisapplied
	default:
		return schema.StatusDoubtful
	}
}

// mapCode implements spec §4.6 stage 5's nomenclatural code mapping.
func mapCode(raw string) schema.NomenclaturalCode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "botanical":
		return schema.CodeICN
	case "zoological":
		return schema.CodeICZN
	case "virus":
		return schema.CodeICTV
	case "bacterial":
		return schema.CodeICNP
	default:
		return ""
	}
}

// parseEnvironment splits a pipe- or comma-delimited environment field
// into its enumerated set (spec §4.6 stage 5).
func parseEnvironment(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	raw = strings.NewReplacer("|", ",").Replace(raw)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// completenessScore is the fraction of denormalized hierarchy fields a
// taxon carries, used as the reconciler's stage-ordering tiebreak.
func completenessScore(t schema.ReferenceTaxon) float64 {
	fields := []string{
		t.Kingdom, t.Phylum, t.Class, t.Order, t.Family, t.Genus,
	}
	filled := 0
	for _, f := range fields {
		if f != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}

// confidenceScore reads an explicit source confidence hint if present,
// defaulting to 1.0 for a row the source marked well-formed.
func confidenceScore(cols map[string]string) float64 {
	f, err := strconv.ParseFloat(cols["confidence"], 64)
	if err != nil {
		return 1.0
	}
	return f
}
