// Package errcode defines the error vocabulary shared across dex.
//
// Every user-facing error carries a Code (for programmatic dispatch and
// HTTP-status mapping), a human Msg template (may use <em>...</em> markers
// for CLI emphasis, stripped by HTTP handlers), positional Vars for the
// template, and a wrapped Err for logs/inspection. This mirrors the
// gn.Error convention this project grew out of, without depending on it.
package errcode

import (
	"errors"
	"fmt"
)

// Code groups errors by HTTP-visible category (see spec §7) plus the
// internal subsystem that raised them.
type Code int

const (
	UnknownError Code = iota

	// Category codes, map 1:1 onto spec §7 error kinds.
	ValidationError
	NotFoundError
	GoneError
	UnauthorizedError
	ForbiddenError
	ConflictError
	UpstreamTransientError
	UpstreamFatalError
	DataCorruptionError
	InternalError

	// Database subsystem.
	DBConnectionError
	DBNotConnectedError
	DBTableCheckError
	DBTableExistsCheckError
	DBQueryTablesError
	DBScanTableError
	DBDropTableError
	DBEmptyDatabaseError

	// Schema subsystem.
	SchemaGORMConnectionError
	SchemaCreateError
	SchemaMigrateError
	SchemaCollationError

	// Importer subsystem (C6).
	ImportNoReleaseError
	ImportDownloadError
	ImportArchiveInvalidError
	ImportStagingError
	ImportNormalizationError
	ImportJobActiveError

	// Image/vision/job subsystem (C1/C3/C7).
	ImageUnsupportedMediaError
	ImageInvalidTransformError
	VisionTransientError
	VisionFatalError
	JobInvalidStateError

	// File system / config.
	CreateDirError
	ReadFileError
	WriteFileError
	CreateLogFileError
)

// Error is dex's structured error type. It implements the standard error
// interface and supports errors.Is/As via Unwrap.
type Error struct {
	Code Code
	Msg  string
	Vars []any
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if len(e.Vars) > 0 {
		msg = fmt.Sprintf(stripEmphasis(e.Msg), e.Vars...)
	} else {
		msg = stripEmphasis(e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// stripEmphasis removes <em>...</em> markers for contexts (logs, JSON
// responses) that should not render CLI-style emphasis.
func stripEmphasis(s string) string {
	out := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		if i+4 <= len(s) && s[i:i+4] == "<em>" {
			i += 4
			continue
		}
		if i+5 <= len(s) && s[i:i+5] == "</em>" {
			i += 5
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return UnknownError
}

// New constructs a plain *Error without caller-trace decoration; used by
// call sites that don't need the runtime.Caller formatting the
// subsystem-specific constructors use.
func New(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// --- Category constructors (spec §7) ---

func Validation(msg string, vars ...any) error {
	return &Error{Code: ValidationError, Msg: msg, Vars: vars}
}

func NotFound(kind, id string) error {
	return &Error{
		Code: NotFoundError,
		Msg:  "<em>%s</em> <em>%s</em> not found",
		Vars: []any{kind, id},
	}
}

func Gone(msg string, vars ...any) error {
	return &Error{Code: GoneError, Msg: msg, Vars: vars}
}

func Unauthorized(msg string) error {
	return &Error{Code: UnauthorizedError, Msg: msg}
}

func Forbidden(msg string) error {
	return &Error{Code: ForbiddenError, Msg: msg}
}

func Conflict(msg string, vars ...any) error {
	return &Error{Code: ConflictError, Msg: msg, Vars: vars}
}

func UpstreamTransient(msg string, err error) error {
	return &Error{Code: UpstreamTransientError, Msg: msg, Err: err}
}

func UpstreamFatal(msg string, err error) error {
	return &Error{Code: UpstreamFatalError, Msg: msg, Err: err}
}

func DataCorruption(msg string, err error) error {
	return &Error{Code: DataCorruptionError, Msg: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &Error{Code: InternalError, Msg: msg, Err: err}
}

// JobInvalidState reports an operation attempted against an Analysis Job
// that isn't in the state it requires (spec §4.7: terminal states, the
// single-retry rule, selected_index bounds).
func JobInvalidState(msg string, vars ...any) error {
	return &Error{Code: JobInvalidStateError, Msg: msg, Vars: vars}
}
