package ioapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fieldnote/dex/pkg/errcode"
)

// statusFor maps an errcode.Code to the HTTP status it surfaces as (spec
// §7). Codes outside the category range (subsystem-specific codes like
// SchemaMigrateError) fall back to 500: they should never reach a handler
// directly, only wrapped behind a category constructor.
func statusFor(code errcode.Code) int {
	switch code {
	case errcode.ValidationError, errcode.ImageUnsupportedMediaError, errcode.ImageInvalidTransformError:
		return http.StatusBadRequest
	case errcode.NotFoundError:
		return http.StatusNotFound
	case errcode.GoneError:
		return http.StatusGone
	case errcode.UnauthorizedError:
		return http.StatusUnauthorized
	case errcode.ForbiddenError:
		return http.StatusForbidden
	case errcode.ConflictError, errcode.JobInvalidStateError:
		return http.StatusConflict
	case errcode.UpstreamTransientError, errcode.UpstreamFatalError, errcode.DataCorruptionError, errcode.InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape every non-2xx response shares (spec §7: "all
// errors carry a human-readable message; user-visible responses never
// include stack traces").
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to its HTTP status and writes the JSON error body.
// Unrecognized errors (not an *errcode.Error) are logged with full detail
// server-side but surfaced to the client as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errcode.CodeOf(err)
	status := statusFor(code)

	msg := err.Error()
	if code == errcode.UnknownError {
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}

	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", "err", err)
	}
}
