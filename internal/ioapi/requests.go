package ioapi

import (
	"encoding/json"
	"net/http"

	"github.com/fieldnote/dex/pkg/errcode"
)

// decodeJSON decodes r's body into dest and runs struct-tag validation
// over it, collapsing both failure modes into one Validation error (spec
// §7: ValidationError — malformed input, missing required field).
func (s *Server) decodeJSON(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errcode.Validation("malformed request body")
	}
	if err := s.validate.Struct(dest); err != nil {
		return errcode.Validation(err.Error())
	}
	return nil
}
