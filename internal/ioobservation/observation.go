// Package ioobservation implements the Observation Recorder (C8): writes a
// sighting into a user's personal catalog and invalidates every tree cache
// that could have rendered it (spec §4.9).
package ioobservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// Cacher is the subset of iocache.Cache the recorder needs to invalidate
// tree caches; satisfied structurally so this package doesn't need to
// import the redis client directly.
type Cacher interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Recorder is the Observation Recorder (C8).
type Recorder struct {
	db    *gorm.DB
	cache Cacher
}

// New constructs a Recorder.
func New(db *gorm.DB, cache Cacher) *Recorder {
	return &Recorder{db: db, cache: cache}
}

// Params bundles Record's input (spec §4.9).
type Params struct {
	Owner            uuid.UUID
	AnimalID         uuid.UUID
	OriginalImageRef string
	ProcessedImageRef string
	Checksum         string
	Lat              *float64
	Lon              *float64
	LocationName     string
	Notes            string
	Visibility       schema.Visibility
	CatchDate        *time.Time
}

// Record enforces the (owner, animal, catch_date) uniqueness, defaults
// catch_date to now when omitted, persists the observation, and invalidates
// the owner's plus every accepted friend's tree caches (spec §4.9).
func (r *Recorder) Record(ctx context.Context, p Params) (*schema.Observation, error) {
	catchDate := time.Now()
	if p.CatchDate != nil {
		catchDate = *p.CatchDate
	}

	visibility := p.Visibility
	if visibility == "" {
		visibility = schema.VisibilityPrivate
	}

	obs := schema.Observation{
		ObservationID:     uuid.New(),
		OwnerUserID:       p.Owner,
		AnimalID:          p.AnimalID,
		OriginalImageRef:  p.OriginalImageRef,
		ProcessedImageRef: p.ProcessedImageRef,
		Checksum:          p.Checksum,
		Lat:               p.Lat,
		Lon:               p.Lon,
		LocationName:      p.LocationName,
		Notes:             p.Notes,
		CatchDate:         catchDate,
		Visibility:        visibility,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	var exists int64
	err := r.db.WithContext(ctx).Model(&schema.Observation{}).
		Where("owner_user_id = ? AND animal_id = ? AND catch_date = ?", p.Owner, p.AnimalID, catchDate).
		Count(&exists).Error
	if err != nil {
		return nil, errcode.Internal("failed to check observation uniqueness", err)
	}
	if exists > 0 {
		return nil, errcode.Conflict("an observation for this animal on <em>%s</em> already exists", catchDate.Format("2006-01-02"))
	}

	if err := r.db.WithContext(ctx).Create(&obs).Error; err != nil {
		return nil, errcode.Internal("failed to persist observation", err)
	}

	if err := r.invalidate(ctx, p.Owner); err != nil {
		return nil, err
	}
	return &obs, nil
}

// Delete removes an observation owned by owner and runs the same
// invalidation as Record (spec §4.9: "On delete, same invalidations").
func (r *Recorder) Delete(ctx context.Context, owner, observationID uuid.UUID) error {
	var obs schema.Observation
	err := r.db.WithContext(ctx).Where("observation_id = ? AND owner_user_id = ?", observationID, owner).First(&obs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errcode.NotFound("observation", observationID.String())
	}
	if err != nil {
		return errcode.Internal("failed to load observation", err)
	}

	if err := r.db.WithContext(ctx).Delete(&obs).Error; err != nil {
		return errcode.Internal("failed to delete observation", err)
	}

	return r.invalidate(ctx, owner)
}

// treeModes are the per-viewer tree cache modes keyed by a single user id
// (spec §4.13 key schema: "tree:{mode}:{viewer_id}"); "selected" is keyed
// by a joined, sorted set of user ids instead and is invalidated as a
// whole namespace below.
var treeModes = []string{"personal", "friends"}

// invalidate drops every tree cache owned by owner plus every accepted
// friend of owner (spec §4.9: "all tree caches owned by owner" and "all
// tree caches owned by any accepted friend of owner"). A friend's tree
// read mixing in owner's observations means owner's write can change what
// that friend's projection renders next. TreeKey's viewer id is a
// fixed-length UUID string, so using the full key as a DeletePrefix
// argument is an exact match, not a collision risk with another viewer's
// key (spec §4.13 Operations: DeletePrefix is the only primitive, so an
// exact-key invalidation is expressed as DeletePrefix(fullKey)).
func (r *Recorder) invalidate(ctx context.Context, owner uuid.UUID) error {
	affected, err := r.acceptedFriendsOf(ctx, owner)
	if err != nil {
		return err
	}
	affected = append(affected, owner)

	for _, userID := range affected {
		for _, mode := range treeModes {
			if err := r.cache.DeletePrefix(ctx, iocache.TreeKey(mode, userID.String())); err != nil {
				return err
			}
		}
	}
	// "selected" scope can include owner or any affected friend in an
	// arbitrary combination; invalidating the whole namespace is the
	// conservative superset spec §4.12 endorses for the Chunk Manager and
	// applies just as well here.
	if err := r.cache.DeletePrefix(ctx, "tree:selected:"); err != nil {
		return err
	}
	if err := r.cache.DeletePrefix(ctx, iocache.TreeGlobalKey()); err != nil {
		return err
	}
	if err := r.cache.DeletePrefix(ctx, iocache.DexUserKey(owner.String())); err != nil {
		return err
	}
	return r.cache.DeletePrefix(ctx, iocache.DexFriendsOverviewKey(owner.String()))
}

// acceptedFriendsOf returns every user on either side of an accepted
// Friendship with owner (spec §3: friendship is directed but mutually
// visible once accepted).
func (r *Recorder) acceptedFriendsOf(ctx context.Context, owner uuid.UUID) ([]uuid.UUID, error) {
	var friendships []schema.Friendship
	err := r.db.WithContext(ctx).
		Where("status = ? AND (from_user = ? OR to_user = ?)", schema.FriendshipAccepted, owner, owner).
		Find(&friendships).Error
	if err != nil {
		return nil, errcode.Internal("failed to load friendships", err)
	}

	friends := make([]uuid.UUID, 0, len(friendships))
	for _, f := range friendships {
		if f.FromUser == owner {
			friends = append(friends, f.ToUser)
		} else {
			friends = append(friends, f.FromUser)
		}
	}
	return friends, nil
}
