package ioapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/ioobservation"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// createEntryRequest is spec §6 POST /dex/entries's body: "animal, either
// source_vision_job or original_image, optional catch_date, location_*,
// notes, visibility".
type createEntryRequest struct {
	AnimalID        uuid.UUID  `json:"animal_id"`
	SourceVisionJob *uuid.UUID `json:"source_vision_job"`
	OriginalImage   string     `json:"original_image"`
	CatchDate       *time.Time `json:"catch_date"`
	LocationLat     *float64   `json:"location_lat"`
	LocationLon     *float64   `json:"location_lon"`
	LocationName    string     `json:"location_name"`
	Notes           string     `json:"notes"`
	Visibility      schema.Visibility `json:"visibility"`
}

// handleCreateEntry implements POST /dex/entries (spec §6).
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	var req createEntryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.AnimalID == uuid.Nil {
		writeError(w, r, errcode.Validation("missing <em>animal_id</em>"))
		return
	}
	if (req.SourceVisionJob == nil) == (req.OriginalImage == "") {
		writeError(w, r, errcode.Validation("exactly one of <em>source_vision_job</em> or <em>original_image</em> is required"))
		return
	}

	originalRef, processedRef, checksum, err := s.resolveEntryImages(ctx, viewer, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	obs, err := s.observations.Record(ctx, ioobservation.Params{
		Owner:             viewer,
		AnimalID:          req.AnimalID,
		OriginalImageRef:  originalRef,
		ProcessedImageRef: processedRef,
		Checksum:          checksum,
		Lat:               req.LocationLat,
		Lon:               req.LocationLon,
		LocationName:      req.LocationName,
		Notes:             req.Notes,
		Visibility:        req.Visibility,
		CatchDate:         req.CatchDate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entryView(obs))
}

// resolveEntryImages turns a source_vision_job or a raw original_image ref
// into the (original, processed, checksum) an Observation persists. The
// legacy raw-image path carries no checksum: it bypasses the Conversion
// Store entirely, so no normalized-bytes hash was ever computed for it.
func (s *Server) resolveEntryImages(ctx context.Context, viewer uuid.UUID, req createEntryRequest) (original, processed, checksum string, err error) {
	if req.SourceVisionJob == nil {
		return req.OriginalImage, req.OriginalImage, "", nil
	}

	job, err := s.jobs.Get(ctx, *req.SourceVisionJob, viewer)
	if err != nil {
		return "", "", "", err
	}
	if job.ConversionID == nil {
		return job.RawImageRef, job.RawImageRef, "", nil
	}
	conv, err := s.conversions.Get(ctx, *job.ConversionID, viewer)
	if err != nil {
		return "", "", "", err
	}
	return conv.OriginalRef, conv.NormalizedRef, conv.Checksum, nil
}

// handleSyncEntries implements GET /dex/entries/sync_entries (spec §6):
// observations updated since last_sync, or every observation when omitted
// (cached 5 minutes per user in that case).
func (s *Server) handleSyncEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	lastSyncRaw := r.URL.Query().Get("last_sync")
	useCache := lastSyncRaw == ""

	cacheKey := iocache.DexUserKey(viewer.String())
	if useCache {
		var cached []entryResponse
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			writeJSON(w, http.StatusOK, syncEntriesResponse{Entries: cached})
			return
		}
	}

	q := s.db.WithContext(ctx).Where("owner_user_id = ?", viewer)
	if !useCache {
		lastSync, err := time.Parse(time.RFC3339, lastSyncRaw)
		if err != nil {
			writeError(w, r, errcode.Validation("malformed <em>last_sync</em> timestamp"))
			return
		}
		q = q.Where("updated_at > ?", lastSync)
	}

	var observations []schema.Observation
	if err := q.Find(&observations).Error; err != nil {
		writeError(w, r, errcode.Internal("failed to load observations", err))
		return
	}

	entries := make([]entryResponse, len(observations))
	for i := range observations {
		entries[i] = entryView(&observations[i])
	}

	if useCache {
		_ = s.cache.Set(ctx, cacheKey, entries, iocache.DexUserTTL)
	}
	writeJSON(w, http.StatusOK, syncEntriesResponse{Entries: entries})
}

// handleGetEntry implements the single-entry read behind
// /dex/entries/{id}, enforcing the visibility invariant named in spec §6.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	obsID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed entry id"))
		return
	}

	var obs schema.Observation
	if err := s.db.WithContext(ctx).First(&obs, "observation_id = ?", obsID).Error; err != nil {
		writeError(w, r, errcode.NotFound("observation", obsID.String()))
		return
	}

	ok, err := s.visible(ctx, viewer, &obs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, errcode.Forbidden("this observation is not visible to the requesting user"))
		return
	}

	writeJSON(w, http.StatusOK, entryView(&obs))
}

type syncEntriesResponse struct {
	Entries []entryResponse `json:"entries"`
}

// entryResponse is one Observation as returned from the dex/entries
// endpoints, carrying the client-diffing fields spec §6 names.
type entryResponse struct {
	ID               uuid.UUID         `json:"id"`
	AnimalID         uuid.UUID         `json:"animal_id"`
	CatchDate        string            `json:"catch_date"`
	LocationName     string            `json:"location_name,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Visibility       schema.Visibility `json:"visibility"`
	DexCompatibleURL string            `json:"dex_compatible_url,omitempty"`
	ImageChecksum    string            `json:"image_checksum,omitempty"`
	ImageUpdatedAt   string            `json:"image_updated_at"`
	UpdatedAt        string            `json:"updated_at"`
}

func entryView(obs *schema.Observation) entryResponse {
	view := entryResponse{
		ID:             obs.ObservationID,
		AnimalID:       obs.AnimalID,
		CatchDate:      obs.CatchDate.Format(timeFormat),
		LocationName:   obs.LocationName,
		Notes:          obs.Notes,
		Visibility:     obs.Visibility,
		ImageChecksum:  obs.Checksum,
		UpdatedAt:      obs.UpdatedAt.Format(timeFormat),
		ImageUpdatedAt: obs.UpdatedAt.Format(timeFormat),
	}
	if obs.ProcessedImageRef != "" {
		view.DexCompatibleURL = "/api/v1/dex/entries/" + obs.ObservationID.String() + "/image"
	}
	return view
}

// handleEntryImage streams an observation's dex-compatible PNG behind the
// same visibility check as the entry itself.
func (s *Server) handleEntryImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	obsID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed entry id"))
		return
	}

	var obs schema.Observation
	if err := s.db.WithContext(ctx).First(&obs, "observation_id = ?", obsID).Error; err != nil {
		writeError(w, r, errcode.NotFound("observation", obsID.String()))
		return
	}

	ok, err := s.visible(ctx, viewer, &obs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, errcode.Forbidden("this observation is not visible to the requesting user"))
		return
	}
	if obs.ProcessedImageRef == "" {
		writeError(w, r, errcode.NotFound("observation image", obsID.String()))
		return
	}

	data, err := s.blobs.Get(ctx, obs.ProcessedImageRef)
	if err != nil {
		writeError(w, r, errcode.NotFound("observation image", obsID.String()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if obs.Checksum != "" {
		w.Header().Set("ETag", `"`+obs.Checksum+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDeleteEntry removes an observation the viewer owns, triggering the
// same tree-cache invalidations as a write (spec §4.9).
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	obsID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed entry id"))
		return
	}

	if err := s.observations.Delete(ctx, viewer, obsID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// visible reports whether an Observation is visible to requester (spec §6
// "Visibility enforcement (read-side invariant)").
func (s *Server) visible(ctx context.Context, requester uuid.UUID, obs *schema.Observation) (bool, error) {
	if obs.OwnerUserID == requester || obs.Visibility == schema.VisibilityPublic {
		return true, nil
	}
	if obs.Visibility != schema.VisibilityFriends {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&schema.Friendship{}).
		Where("status = ? AND ((from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?))",
			schema.FriendshipAccepted, obs.OwnerUserID, requester, requester, obs.OwnerUserID).
		Count(&count).Error
	if err != nil {
		return false, errcode.Internal("failed to check friendship", err)
	}
	return count > 0, nil
}
