// Package ioanimal implements the Canonical Animal Upsert (§4.8): turning a
// resolved Reference Taxon (plus an optional CV common name/confidence)
// into the catalog's species-level record, and the administrative
// creation-index recompaction operation.
package ioanimal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// Store implements the Canonical Animal Upsert (C4.8) against the catalog.
type Store struct {
	db *gorm.DB
}

// New constructs a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert finds or creates the CanonicalAnimal for taxon.ScientificName,
// copying the denormalized hierarchy and linking taxonomy_id. On insert,
// creation_index is assigned as max(existing)+1 under a row lock so
// concurrent inserts serialize on the same sentinel row (spec §4.8;
// grounded on original_source/server/animals/services.py
// create_or_update_from_taxonomy).
func (s *Store) Upsert(ctx context.Context, taxon *schema.ReferenceTaxon, cvCommonName string, cvConfidence float64) (*schema.CanonicalAnimal, bool, error) {
	var animal schema.CanonicalAnimal
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("scientific_name = ?", taxon.ScientificName).First(&animal).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			idx, err := nextCreationIndex(tx)
			if err != nil {
				return err
			}
			animal = schema.CanonicalAnimal{
				AnimalID:       uuid.New(),
				ScientificName: taxon.ScientificName,
				CreationIndex:  idx,
				CreatedAt:      time.Now(),
			}
			created = true
		case findErr != nil:
			return errcode.Internal("canonical animal lookup failed", findErr)
		}

		animal.Kingdom = taxon.Kingdom
		animal.Phylum = taxon.Phylum
		animal.Class = taxon.Class
		animal.Order = taxon.Order
		animal.Family = taxon.Family
		animal.Genus = taxon.Genus
		animal.Species = taxon.SpecificEpithet
		animal.TaxonomyID = &taxon.TaxonID
		animal.Verified = true
		animal.VerificationMethod = "taxonomy"
		animal.TaxonomyConfidence = maxFloat(cvConfidence, taxon.ConfidenceScore)
		_ = cvCommonName // common name lives on the Observation/DetectedAnimal, not the canonical record

		if created {
			return tx.Create(&animal).Error
		}
		return tx.Save(&animal).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &animal, created, nil
}

// CreateFromCV inserts a basic, unverified CanonicalAnimal directly from a
// parsed CV entity when no Reference Taxon could be resolved (spec §4.7
// step 5: a reconciler miss still records the entity; the catalog falls
// back to a bare record rather than dropping the detection).
func (s *Store) CreateFromCV(ctx context.Context, genus, species, scientificName, commonName string) (*schema.CanonicalAnimal, bool, error) {
	var animal schema.CanonicalAnimal
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("scientific_name = ?", scientificName).First(&animal).Error
		if findErr == nil {
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return errcode.Internal("canonical animal lookup failed", findErr)
		}

		idx, err := nextCreationIndex(tx)
		if err != nil {
			return err
		}
		animal = schema.CanonicalAnimal{
			AnimalID:           uuid.New(),
			ScientificName:     scientificName,
			Genus:              genus,
			Species:            species,
			CreationIndex:      idx,
			Verified:           false,
			VerificationMethod: "cv",
			CreatedAt:          time.Now(),
		}
		created = true
		return tx.Create(&animal).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &animal, created, nil
}

// nextCreationIndex locks the highest-indexed row (if any) so concurrent
// inserts serialize rather than racing on the unique index (spec §4.8:
// "atomic at the database level; contention surface").
func nextCreationIndex(tx *gorm.DB) (int, error) {
	var idx int
	err := tx.Raw(`SELECT creation_index FROM canonical_animals ORDER BY creation_index DESC LIMIT 1 FOR UPDATE`).Scan(&idx).Error
	if err != nil {
		return 0, errcode.Internal("failed to compute next creation index", err)
	}
	return idx + 1, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// RecalculateCreationIndex renumbers every CanonicalAnimal by
// (creation_index asc, created_at asc), first reassigning each row to a
// negative sentinel to dodge the unique-index violation mid-transaction,
// then to its final value (spec §4.8; grounded on
// original_source/.../recalculate_creation_index.py). animal_id references
// are untouched, so external links by ID remain valid (spec §9 Open
// Question).
func (s *Store) RecalculateCreationIndex(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var animals []schema.CanonicalAnimal
		if err := tx.Order("creation_index ASC, created_at ASC").Find(&animals).Error; err != nil {
			return errcode.Internal("failed to load animals for recalculation", err)
		}

		for i, a := range animals {
			if err := tx.Model(&schema.CanonicalAnimal{}).
				Where("animal_id = ?", a.AnimalID).
				Update("creation_index", -(i + 1)).Error; err != nil {
				return errcode.Internal("failed to clear creation index", err)
			}
		}
		for i, a := range animals {
			if err := tx.Model(&schema.CanonicalAnimal{}).
				Where("animal_id = ?", a.AnimalID).
				Update("creation_index", i+1).Error; err != nil {
				return errcode.Internal("failed to apply creation index", err)
			}
		}
		return nil
	})
}
