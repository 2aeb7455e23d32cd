// Package ioconversion implements the Conversion Store (C2): normalizes an
// upload via ioimage, persists it with a 30-minute TTL, and binds it once a
// job references it. Bind/Reap are transactional so a concurrent reap can
// never destroy a conversion a job is in the middle of binding (spec §5).
package ioconversion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldnote/dex/internal/ioimage"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// TTL is how long an unbound conversion remains reachable (spec §3).
const TTL = 30 * time.Minute

// maxUnusedAge is the secondary reap threshold covering unused reaches
// that were never bound and never re-fetched (spec §4.2 Reap).
const maxUnusedAge = time.Hour

// Blobs is the byte-storage collaborator (out of core scope per spec §1;
// the object-storage backend is an external collaborator). Implementations
// return a reference string the caller can later resolve back to bytes.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Store is the Conversion Store (C2).
type Store struct {
	db    *gorm.DB
	blobs Blobs
}

// New constructs a Store.
func New(db *gorm.DB, blobs Blobs) *Store {
	return &Store{db: db, blobs: blobs}
}

// Result is the outcome of Create, including the download reference
// client code turns into a URL (spec §6: download_url).
type Result struct {
	ConvID         uuid.UUID
	DownloadRef    string
	Metadata       ioimage.Metadata
	Checksum       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Create runs the Normalizer over originalBytes, persists both the
// original and normalized blobs, and records a fresh unbound conversion
// (spec §4.2).
func (s *Store) Create(ctx context.Context, userID uuid.UUID, originalBytes []byte, declaredMIME string, transform ioimage.Transform) (*Result, error) {
	normalized, meta, err := ioimage.Normalize(originalBytes, declaredMIME, ioimage.Options{
		Transform:         transform,
		ApplyEXIFRotation: true,
	})
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(normalized)
	checksum := hex.EncodeToString(sum[:])

	convID := uuid.New()
	originalRef, err := s.blobs.Put(ctx, "originals/"+convID.String(), originalBytes)
	if err != nil {
		return nil, errcode.Internal("failed to store original image", err)
	}
	normalizedRef, err := s.blobs.Put(ctx, "converted/"+convID.String()+".png", normalized)
	if err != nil {
		return nil, errcode.Internal("failed to store converted image", err)
	}

	transformJSON, _ := json.Marshal(transform)

	now := time.Now()
	row := schema.ImageConversion{
		ConvID:                 convID,
		UserID:                 userID,
		OriginalRef:            originalRef,
		NormalizedRef:          normalizedRef,
		OriginalFormat:         meta.OriginalFormat,
		OriginalWidth:          meta.OriginalWidth,
		OriginalHeight:         meta.OriginalHeight,
		ConvertedWidth:         meta.ProcessedWidth,
		ConvertedHeight:        meta.ProcessedHeight,
		TransformationsApplied: string(transformJSON),
		Checksum:               checksum,
		CreatedAt:              now,
		ExpiresAt:              now.Add(TTL),
		Bound:                  false,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, errcode.Internal("failed to persist conversion", err)
	}

	return &Result{
		ConvID:      convID,
		DownloadRef: normalizedRef,
		Metadata:    meta,
		Checksum:    checksum,
		CreatedAt:   now,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// Get returns the conversion iff owned by userID and not expired (spec §4.2).
func (s *Store) Get(ctx context.Context, convID, userID uuid.UUID) (*schema.ImageConversion, error) {
	var row schema.ImageConversion
	err := s.db.WithContext(ctx).
		Where("conv_id = ? AND user_id = ?", convID, userID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errcode.NotFound("conversion", convID.String())
	}
	if err != nil {
		return nil, errcode.Internal("failed to load conversion", err)
	}
	if !row.Bound && time.Now().After(row.ExpiresAt) {
		return nil, errcode.New(errcode.GoneError, "conversion <em>%s</em> has expired", nil)
	}
	return &row, nil
}

// Download returns the normalized PNG bytes for a still-reachable
// conversion (spec §6: GET /images/convert/{id}/download).
func (s *Store) Download(ctx context.Context, convID, userID uuid.UUID) ([]byte, error) {
	row, err := s.Get(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, row.NormalizedRef)
}

// Bind marks a conversion as referenced by a job, exempting it from
// TTL-based reaping. Idempotent: two binds leave bound=true with no
// further side effects (spec §8). Runs in its own transaction with a
// row lock so a concurrent Reap cannot delete the row between the
// existence check and the flip (spec §5: select-for-update semantics).
func (s *Store) Bind(ctx context.Context, convID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row schema.ImageConversion
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("conv_id = ?", convID).First(&row).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errcode.NotFound("conversion", convID.String())
			}
			return errcode.Internal("failed to load conversion for bind", err)
		}
		if row.Bound {
			return nil
		}
		return tx.Model(&schema.ImageConversion{}).
			Where("conv_id = ?", convID).
			Update("bound", true).Error
	})
}

// Reap deletes expired unbound conversions and unbound conversions that
// have sat unused past maxUnusedAge (spec §4.2). Eventually consistent:
// a Bind racing a Reap either commits first (row survives, bound=true) or
// loses the row only if it was never successfully bound — Bind's
// transaction re-checks existence under lock, so the two never corrupt
// state, only reorder which one wins the race.
func (s *Store) Reap(ctx context.Context) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Where("bound = false AND (expires_at < ? OR created_at < ?)", now, now.Add(-maxUnusedAge)).
		Delete(&schema.ImageConversion{})
	if res.Error != nil {
		return 0, errcode.Internal("failed to reap expired conversions", res.Error)
	}
	return res.RowsAffected, nil
}
