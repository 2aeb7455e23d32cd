package ioreconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// maintenanceBatchSize bounds how many taxa a maintenance pass loads per
// round trip.
const maintenanceBatchSize = 500

// RecheckStats summarizes a maintenance pass over the reference corpus.
type RecheckStats struct {
	Examined int
	Relinked int
	Rescored int
}

// RecheckSynonyms walks every synonym taxon whose accepted_name link is
// still null, re-runs the resolution fallback chain over it, and persists
// the link when a chain now resolves. Useful after an import round brings
// in name relations or accepted taxa that earlier rounds were missing.
// source narrows the pass to one source; empty means all.
//
// The candidate set is snapshotted before any row is mutated, the same
// discipline the importer's normalization pass follows: the filter
// predicate (accepted_name_id IS NULL) is exactly what the pass mutates.
func (r *Reconciler) RecheckSynonyms(ctx context.Context, source string) (RecheckStats, error) {
	var stats RecheckStats

	q := r.db.WithContext(ctx).Model(&schema.ReferenceTaxon{}).
		Where("status = ? AND accepted_name_id IS NULL", schema.StatusSynonym)
	if source != "" {
		q = q.Where("source = ?", source)
	}

	var ids []uuid.UUID
	if err := q.Order("taxon_id").Pluck("taxon_id", &ids).Error; err != nil {
		return stats, errcode.Internal("failed to snapshot synonym taxa", err)
	}

	for start := 0; start < len(ids); start += maintenanceBatchSize {
		end := min(start+maintenanceBatchSize, len(ids))

		var batch []schema.ReferenceTaxon
		err := r.db.WithContext(ctx).
			Where("taxon_id IN ?", ids[start:end]).
			Find(&batch).Error
		if err != nil {
			return stats, errcode.Internal("failed to load synonym batch", err)
		}

		for i := range batch {
			taxon := &batch[i]
			stats.Examined++

			resolved, _ := r.resolveSynonym(ctx, taxon)
			if resolved.TaxonID == taxon.TaxonID {
				continue
			}

			err := r.db.WithContext(ctx).Model(taxon).
				Update("accepted_name_id", resolved.TaxonID).Error
			if err != nil {
				return stats, errcode.Internal("failed to persist accepted_name link", err)
			}
			stats.Relinked++
		}
	}

	return stats, nil
}

// RescoreCompleteness recomputes completeness_score over the corpus and
// persists rows whose stored score has drifted from the six-field formula.
// source narrows the pass to one source; empty means all.
func (r *Reconciler) RescoreCompleteness(ctx context.Context, source string) (RecheckStats, error) {
	var stats RecheckStats

	q := r.db.WithContext(ctx).Model(&schema.ReferenceTaxon{})
	if source != "" {
		q = q.Where("source = ?", source)
	}

	var ids []uuid.UUID
	if err := q.Order("taxon_id").Pluck("taxon_id", &ids).Error; err != nil {
		return stats, errcode.Internal("failed to snapshot taxa for rescoring", err)
	}

	for start := 0; start < len(ids); start += maintenanceBatchSize {
		end := min(start+maintenanceBatchSize, len(ids))

		var batch []schema.ReferenceTaxon
		err := r.db.WithContext(ctx).
			Where("taxon_id IN ?", ids[start:end]).
			Find(&batch).Error
		if err != nil {
			return stats, errcode.Internal("failed to load taxa batch", err)
		}

		for i := range batch {
			taxon := &batch[i]
			stats.Examined++

			score := hierarchyCompleteness(taxon)
			if score == taxon.CompletenessScore {
				continue
			}

			err := r.db.WithContext(ctx).Model(taxon).
				Update("completeness_score", score).Error
			if err != nil {
				return stats, errcode.Internal("failed to persist completeness score", err)
			}
			stats.Rescored++
		}
	}

	return stats, nil
}

// hierarchyCompleteness is the filled fraction of the six denormalized
// hierarchy fields (kingdom through genus).
func hierarchyCompleteness(t *schema.ReferenceTaxon) float64 {
	fields := []string{t.Kingdom, t.Phylum, t.Class, t.Order, t.Family, t.Genus}
	filled := 0
	for _, f := range fields {
		if f != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}
