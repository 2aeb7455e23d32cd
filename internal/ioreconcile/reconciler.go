// Package ioreconcile implements the Taxonomy Reconciler (C5): a six-stage
// matcher that maps a free-form vision identification onto a row of the
// imported reference corpus, resolves synonyms, and repairs missing fields
// (spec §4.5).
package ioreconcile

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/ioparser"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// CacheTTL is the reconciliation result cache lifetime (spec §4.5 Caching).
const CacheTTL = time.Hour

// Cacher is the subset of iocache.Cache the reconciler needs; satisfied
// structurally so this package doesn't import iocache directly.
type Cacher interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Query is the lookup the reconciler sends to C5 (spec §4.5 input).
type Query struct {
	Genus         string
	Species       string
	Subspecies    string
	CommonName    string
	CVConfidence  float64
	SourceScope   string // empty means "all"
}

// Result is the reconciler's output (spec §4.5 output).
type Result struct {
	Taxon                  *schema.ReferenceTaxon
	CreatedCanonicalAnimal bool
	Message                string
}

// matchableStatuses restricts every stage to taxa still eligible for
// identification (spec §4.5: "each stage restricts to taxa with
// status ∈ {accepted, provisional, synonym}").
var matchableStatuses = []schema.TaxonStatus{
	schema.StatusAccepted,
	schema.StatusProvisional,
	schema.StatusSynonym,
}

// Reconciler is the Taxonomy Reconciler (C5).
type Reconciler struct {
	db    *gorm.DB
	cache Cacher
}

// New constructs a Reconciler over the reference corpus.
func New(db *gorm.DB, cache Cacher) *Reconciler {
	return &Reconciler{db: db, cache: cache}
}

// Reconcile runs the six-stage matcher over q, resolves synonyms, repairs
// missing fields on the resolved taxon, and caches the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, q Query) (Result, error) {
	key := cacheKey(q)
	var cached Result
	if found, err := r.cache.Get(ctx, key, &cached); err == nil && found {
		return cached, nil
	}

	taxon, message, err := r.match(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if taxon == nil {
		result := Result{Message: "no match"}
		_ = r.cache.Set(ctx, key, result, CacheTTL)
		return result, nil
	}

	resolved, resolveMsg := r.resolveSynonym(ctx, taxon)
	if message == "" {
		message = resolveMsg
	} else if resolveMsg != "" {
		message = message + "; " + resolveMsg
	}

	if err := r.repairFields(ctx, resolved); err != nil {
		return Result{}, err
	}

	result := Result{Taxon: resolved, Message: message}
	_ = r.cache.Set(ctx, key, result, CacheTTL)
	return result, nil
}

// match runs stages 1-6 in order, returning the first hit.
func (r *Reconciler) match(ctx context.Context, q Query) (*schema.ReferenceTaxon, string, error) {
	if t, err := r.exactFieldMatch(ctx, q); err != nil {
		return nil, "", err
	} else if t != nil {
		return t, "exact field match", nil
	}

	if t, err := r.exactScientificNameMatch(ctx, q); err != nil {
		return nil, "", err
	} else if t != nil {
		return t, "exact scientific name match", nil
	}

	if q.CommonName != "" {
		if t, err := r.exactCommonNameMatch(ctx, q); err != nil {
			return nil, "", err
		} else if t != nil {
			return t, "exact common name match", nil
		}
	}

	if t, err := r.fuzzyFieldMatch(ctx, q); err != nil {
		return nil, "", err
	} else if t != nil {
		return t, "fuzzy field match", nil
	}

	if t, err := r.fuzzyScientificNameMatch(ctx, q); err != nil {
		return nil, "", err
	} else if t != nil {
		return t, "fuzzy scientific name match", nil
	}

	if q.CommonName != "" {
		if t, err := r.fuzzyCommonNameMatch(ctx, q); err != nil {
			return nil, "", err
		} else if t != nil {
			return t, "fuzzy common name match", nil
		}
	}

	return nil, "", nil
}

// scopedQuery applies the source-scope filter and matchable-status
// restriction shared by every stage, plus the priority/completeness/
// confidence ordering spec §4.5 requires within a stage.
func (r *Reconciler) scopedQuery(ctx context.Context, q Query) *gorm.DB {
	tx := r.db.WithContext(ctx).Model(&schema.ReferenceTaxon{}).
		Where("status IN ?", matchableStatuses).
		Order("source_priority ASC").
		Order("completeness_score DESC").
		Order("confidence_score DESC")
	if q.SourceScope != "" {
		tx = tx.Where("source = ?", q.SourceScope)
	}
	return tx
}

// exactFieldMatch is stage 1.
func (r *Reconciler) exactFieldMatch(ctx context.Context, q Query) (*schema.ReferenceTaxon, error) {
	tx := r.scopedQuery(ctx, q).
		Where("genus ILIKE ?", q.Genus).
		Where("specific_epithet ILIKE ?", q.Species)
	if q.Subspecies != "" {
		tx = tx.Where("infraspecific_epithet ILIKE ?", q.Subspecies)
	} else {
		tx = tx.Where("infraspecific_epithet = '' OR infraspecific_epithet IS NULL")
	}
	return firstOrNil(tx)
}

// exactScientificNameMatch is stage 2.
func (r *Reconciler) exactScientificNameMatch(ctx context.Context, q Query) (*schema.ReferenceTaxon, error) {
	name := binomialOf(q)
	tx := r.scopedQuery(ctx, q).Where("scientific_name ILIKE ?", name)
	return firstOrNil(tx)
}

// exactCommonNameMatch is stage 3.
func (r *Reconciler) exactCommonNameMatch(ctx context.Context, q Query) (*schema.ReferenceTaxon, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&schema.CommonName{}).
		Where("name ILIKE ?", q.CommonName).
		Pluck("taxon_id", &ids).Error
	if err != nil {
		return nil, errcode.Internal("common name lookup failed", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	tx := r.scopedQuery(ctx, q).Where("taxon_id IN ?", ids)
	return firstOrNil(tx)
}

// fuzzyFieldMatch is stage 4: all genus/species matches, then ranked by
// subspecies agreement when one was given.
func (r *Reconciler) fuzzyFieldMatch(ctx context.Context, q Query) (*schema.ReferenceTaxon, error) {
	var candidates []schema.ReferenceTaxon
	tx := r.scopedQuery(ctx, q).
		Where("genus ILIKE ?", q.Genus).
		Where("specific_epithet ILIKE ?", q.Species)
	if err := tx.Find(&candidates).Error; err != nil {
		return nil, errcode.Internal("fuzzy field match failed", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if q.Subspecies == "" {
		return pickBareSubspecies(candidates), nil
	}

	if t := pickExactSubspecies(candidates, q.Subspecies); t != nil {
		return t, nil
	}
	if t := pickContainmentSubspecies(candidates, q.Subspecies); t != nil {
		return t, nil
	}
	return pickBareSubspecies(candidates), nil
}

func pickExactSubspecies(candidates []schema.ReferenceTaxon, sub string) *schema.ReferenceTaxon {
	for i := range candidates {
		if strings.EqualFold(candidates[i].InfraspecificEpithet, sub) {
			return &candidates[i]
		}
	}
	return nil
}

func pickContainmentSubspecies(candidates []schema.ReferenceTaxon, sub string) *schema.ReferenceTaxon {
	lowered := strings.ToLower(sub)
	for i := range candidates {
		c := strings.ToLower(candidates[i].InfraspecificEpithet)
		if c == "" {
			continue
		}
		if strings.Contains(c, lowered) || strings.Contains(lowered, c) {
			return &candidates[i]
		}
	}
	return nil
}

func pickBareSubspecies(candidates []schema.ReferenceTaxon) *schema.ReferenceTaxon {
	for i := range candidates {
		if candidates[i].InfraspecificEpithet == "" {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

// fuzzyScientificNameLimit caps stage 5 candidates (spec §4.5).
const fuzzyScientificNameLimit = 10

// fuzzyScientificNameMatch is stage 5.
func (r *Reconciler) fuzzyScientificNameMatch(ctx context.Context, q Query) (*schema.ReferenceTaxon, error) {
	name := binomialOf(q)
	tx := r.scopedQuery(ctx, q).
		Where("scientific_name ILIKE ?", "%"+name+"%").
		Limit(fuzzyScientificNameLimit)
	return firstOrNil(tx)
}

// fuzzyCommonNameMatch is stage 6.
func (r *Reconciler) fuzzyCommonNameMatch(ctx context.Context, q Query) (*schema.ReferenceTaxon, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&schema.CommonName{}).
		Where("name ILIKE ?", "%"+q.CommonName+"%").
		Pluck("taxon_id", &ids).Error
	if err != nil {
		return nil, errcode.Internal("common name fuzzy lookup failed", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	tx := r.scopedQuery(ctx, q).Where("taxon_id IN ?", ids)
	return firstOrNil(tx)
}

func firstOrNil(tx *gorm.DB) (*schema.ReferenceTaxon, error) {
	var t schema.ReferenceTaxon
	err := tx.First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errcode.Internal("reconciliation query failed", err)
	}
	return &t, nil
}

// resolveSynonym implements the synonym-resolution fallback chain (spec
// §4.5). It never errors: a broken chain just keeps the synonym with an
// explanatory message, matching the spec's "best-effort" language.
func (r *Reconciler) resolveSynonym(ctx context.Context, taxon *schema.ReferenceTaxon) (*schema.ReferenceTaxon, string) {
	if taxon.Status != schema.StatusSynonym {
		return taxon, ""
	}

	if taxon.AcceptedNameID != nil {
		var accepted schema.ReferenceTaxon
		if err := r.db.WithContext(ctx).First(&accepted, "taxon_id = ?", *taxon.AcceptedNameID).Error; err == nil {
			return &accepted, "resolved synonym via accepted_name"
		}
	}

	var relations []schema.NameRelation
	err := r.db.WithContext(ctx).
		Where("name_taxon_id = ? AND type IN ?", taxon.TaxonID, []schema.NameRelationType{
			schema.RelationSpellingCorrection,
			schema.RelationBasionym,
			schema.RelationHomotypicSynonym,
		}).
		Find(&relations).Error
	if err == nil {
		for _, rel := range relations {
			var related schema.ReferenceTaxon
			if err := r.db.WithContext(ctx).
				First(&related, "taxon_id = ? AND status = ?", rel.RelatedNameTaxonID, schema.StatusAccepted).Error; err == nil {
				return &related, "resolved synonym via name relation"
			}
		}
	}

	parts := strings.Fields(taxon.ScientificName)
	if len(parts) >= 3 {
		candidate := parts[0] + " " + parts[len(parts)-1]
		var resolved schema.ReferenceTaxon
		err := r.db.WithContext(ctx).
			Where("scientific_name ILIKE ? AND status = ?", candidate, schema.StatusAccepted).
			First(&resolved).Error
		if err == nil {
			return &resolved, "resolved synonym via first/last name heuristic"
		}
	}

	return taxon, "kept unresolved synonym"
}

// scientificNamePattern splits "Genus species [subspecies]" (spec §4.5
// Field repair), ignoring any trailing parenthetical authorship.
var scientificNamePattern = regexp.MustCompile(`^(\S+)\s+(\S+)(?:\s+(\S+))?`)

// repairFields fills genus/specific_epithet/infraspecific_epithet from
// scientific_name when missing, and persists the repair (spec §4.5).
func (r *Reconciler) repairFields(ctx context.Context, taxon *schema.ReferenceTaxon) error {
	if taxon.Genus != "" && taxon.SpecificEpithet != "" {
		return nil
	}

	m := scientificNamePattern.FindStringSubmatch(taxon.ScientificName)
	if m == nil {
		return nil
	}

	changed := false
	if taxon.Genus == "" {
		taxon.Genus = m[1]
		changed = true
	}
	if taxon.SpecificEpithet == "" {
		taxon.SpecificEpithet = m[2]
		changed = true
	}
	if taxon.InfraspecificEpithet == "" && m[3] != "" {
		taxon.InfraspecificEpithet = m[3]
		changed = true
	}
	if !changed {
		return nil
	}

	err := r.db.WithContext(ctx).Model(taxon).Updates(map[string]any{
		"genus":                 taxon.Genus,
		"specific_epithet":      taxon.SpecificEpithet,
		"infraspecific_epithet": taxon.InfraspecificEpithet,
	}).Error
	if err != nil {
		return errcode.Internal("field repair persist failed", err)
	}
	return nil
}

func binomialOf(q Query) string {
	name := q.Genus + " " + q.Species
	if q.Subspecies != "" {
		name += " " + q.Subspecies
	}
	return name
}

// cacheKey normalizes the query into the (normalized-scientific-name,
// source-scope) cache key spec §4.5 defines: collapse whitespace, strip
// trailing "sp."/"spp.", capitalize genus, lowercase species.
func cacheKey(q Query) string {
	return "taxonomy:" + normalizeScientificName(binomialOf(q)) + ":" + scopeOrAll(q.SourceScope)
}

func scopeOrAll(scope string) string {
	if scope == "" {
		return "all"
	}
	return scope
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeScientificName(name string) string {
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), " ")
	name = strings.TrimSuffix(name, " sp.")
	name = strings.TrimSuffix(name, " spp.")

	parts := strings.Split(name, " ")
	if len(parts) == 0 || parts[0] == "" {
		return name
	}
	parts[0] = strings.ToUpper(parts[0][:1]) + strings.ToLower(parts[0][1:])
	for i := 1; i < len(parts); i++ {
		parts[i] = strings.ToLower(parts[i])
	}
	return strings.Join(parts, " ")
}

// FromEntity adapts a parsed prediction entity (C4 output) into a C5 Query.
func FromEntity(e ioparser.Entity, sourceScope string) Query {
	return Query{
		Genus:        e.Genus,
		Species:      e.Species,
		Subspecies:   e.Subspecies,
		CommonName:   e.CommonName,
		CVConfidence: e.Confidence,
		SourceScope:  sourceScope,
	}
}
