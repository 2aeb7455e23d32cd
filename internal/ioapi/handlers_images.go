package ioapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldnote/dex/internal/ioimage"
	"github.com/fieldnote/dex/pkg/errcode"
)

// convertImageResponse is spec §6 POST /images/convert's 201 body.
type convertImageResponse struct {
	ID       uuid.UUID       `json:"id"`
	Download string          `json:"download_url"`
	Metadata conversionMeta  `json:"metadata"`
	Created  string          `json:"created_at"`
	Expires  string          `json:"expires_at"`
}

type conversionMeta struct {
	OriginalFormat         string `json:"original_format"`
	OriginalSize           string `json:"original_size"`
	ConvertedSize          string `json:"converted_size"`
	TransformationsApplied bool   `json:"transformations_applied"`
	Checksum               string `json:"checksum"`
}

// handleConvertImage implements POST /images/convert (spec §6): multipart
// form with an `image` field and an optional `transformations` JSON field.
func (s *Server) handleConvertImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	if err := r.ParseMultipartForm(ioimage.MaxUploadBytes); err != nil {
		writeError(w, r, errcode.New(errcode.ImageUnsupportedMediaError, "request body too large or malformed", err))
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, errcode.Validation("missing <em>image</em> form field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, errcode.Internal("failed to read uploaded image", err))
		return
	}

	var transform ioimage.Transform
	hasTransform := false
	if raw := r.FormValue("transformations"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &transform); err != nil {
			writeError(w, r, errcode.Validation("malformed <em>transformations</em> JSON"))
			return
		}
		hasTransform = true
	}

	result, err := s.conversions.Create(ctx, viewer, data, "", transform)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, convertImageResponse{
		ID:       result.ConvID,
		Download: "/api/v1/images/convert/" + result.ConvID.String() + "/download",
		Metadata: conversionMeta{
			OriginalFormat:         result.Metadata.OriginalFormat,
			OriginalSize:           dimensionString(result.Metadata.OriginalWidth, result.Metadata.OriginalHeight),
			ConvertedSize:          dimensionString(result.Metadata.ProcessedWidth, result.Metadata.ProcessedHeight),
			TransformationsApplied: hasTransform,
			Checksum:               result.Checksum,
		},
		Created: result.CreatedAt.Format(timeFormat),
		Expires: result.ExpiresAt.Format(timeFormat),
	})
}

// handleDownloadConversion implements GET /images/convert/{id}/download
// (spec §6): a binary PNG stream, or 410 once the conversion has expired.
func (s *Server) handleDownloadConversion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed conversion id"))
		return
	}

	data, err := s.conversions.Download(ctx, convID, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func dimensionString(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
