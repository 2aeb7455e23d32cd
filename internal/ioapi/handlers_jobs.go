package ioapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldnote/dex/internal/ioimage"
	"github.com/fieldnote/dex/internal/iojob"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// submitJobRequest is spec §6 POST /vision/jobs's body: "exactly one of
// conversion_id or image".
type submitJobRequest struct {
	ConversionID                 *uuid.UUID        `json:"conversion_id"`
	Image                        string            `json:"image"`
	PostConversionTransformations ioimage.Transform `json:"post_conversion_transformations"`
	CVMethod                      string            `json:"cv_method" validate:"required"`
	ModelName                     string            `json:"model_name" validate:"required"`
	DetailLevel                   string            `json:"detail_level"`
}

// handleSubmitJob implements POST /vision/jobs (spec §6).
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	var req submitJobRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if (req.ConversionID == nil) == (req.Image == "") {
		writeError(w, r, errcode.Validation("exactly one of <em>conversion_id</em> or <em>image</em> is required"))
		return
	}

	jobID, err := s.jobs.Submit(ctx, iojob.SubmitParams{
		UserID:                  viewer,
		ConversionID:            req.ConversionID,
		RawImageRef:             req.Image,
		PostConversionTransform: req.PostConversionTransformations,
		CVMethod:                req.CVMethod,
		ModelName:               req.ModelName,
		DetailLevel:             req.DetailLevel,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.jobs.Get(ctx, jobID, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobResponse(job))
}

// handleGetJob implements GET /vision/jobs/{id} (spec §6).
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed job id"))
		return
	}

	job, err := s.jobs.Get(ctx, jobID, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// selectAnimalRequest is spec §6 POST /vision/jobs/{id}/select_animal's body.
type selectAnimalRequest struct {
	AnimalIndex *int       `json:"animal_index"`
	AnimalID    *uuid.UUID `json:"animal_id"`
}

// handleSelectAnimal implements POST /vision/jobs/{id}/select_animal (spec §6).
func (s *Server) handleSelectAnimal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed job id"))
		return
	}
	if _, err := s.jobs.Get(ctx, jobID, viewer); err != nil {
		writeError(w, r, err)
		return
	}

	var req selectAnimalRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.jobs.SelectAnimal(ctx, jobID, req.AnimalIndex, req.AnimalID); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.jobs.Get(ctx, jobID, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// handleRetryJob implements POST /vision/jobs/{id}/retry (spec §6): only
// allowed when status=failed.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed job id"))
		return
	}
	if _, err := s.jobs.Get(ctx, jobID, viewer); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.jobs.Retry(ctx, jobID); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.jobs.Get(ctx, jobID, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// jobView is the job record shape returned from every /vision/jobs
// endpoint (spec §6: "status, detected_animals, selected_animal_index,
// token/cost fields, dex_compatible_url").
type jobView struct {
	ID                   uuid.UUID              `json:"id"`
	Status               schema.JobStatus       `json:"status"`
	DetectedAnimals      schema.DetectedAnimals `json:"detected_animals"`
	SelectedAnimalIndex  *int                   `json:"selected_animal_index"`
	IdentifiedAnimalID   *uuid.UUID             `json:"identified_animal_id,omitempty"`
	CostUSD              float64                `json:"cost_usd"`
	InputTokens          int                    `json:"input_tokens"`
	OutputTokens         int                    `json:"output_tokens"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	DexCompatibleURL     string                 `json:"dex_compatible_url,omitempty"`
	CreatedAt            string                 `json:"created_at"`
	UpdatedAt            string                 `json:"updated_at"`
}

func jobResponse(job *schema.AnalysisJob) jobView {
	view := jobView{
		ID:                  job.JobID,
		Status:              job.Status,
		DetectedAnimals:     job.DetectedAnimals,
		SelectedAnimalIndex: job.SelectedIndex,
		IdentifiedAnimalID:  job.IdentifiedAnimalID,
		CostUSD:             job.CostUSD,
		InputTokens:         job.InputTokens,
		OutputTokens:        job.OutputTokens,
		ErrorMessage:        job.ErrorMessage,
		CreatedAt:           job.CreatedAt.Format(timeFormat),
		UpdatedAt:           job.UpdatedAt.Format(timeFormat),
	}
	if job.ConversionID != nil {
		view.DexCompatibleURL = "/api/v1/images/convert/" + job.ConversionID.String() + "/download"
	}
	return view
}
