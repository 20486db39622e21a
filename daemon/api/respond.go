// SPDX-License-Identifier: LGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"hyperorc/orcerrors"
)

// jsonResponse writes data as a compact JSON body.
func (s *Server) jsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

// errorResponse maps err to its orcerrors.Kind's HTTP status and writes
// a JSON body carrying the kind, a message, and, for InvalidState, the
// current/expected fields flattened at the top level.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	oe := orcerrors.Wrap(orcerrors.Internal, err)
	body := map[string]interface{}{
		"error": string(oe.Kind),
	}
	if oe.Message != "" {
		body["message"] = oe.Message
	}
	for k, v := range oe.Detail {
		body[k] = v
	}
	s.jsonResponse(w, oe.HTTPStatus(), body)
}

// decodeJSON decodes r's body into dst. On malformed input it writes a
// 400 BadRequest body to w and returns false; an empty body leaves dst
// unchanged and returns true.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true // empty body: caller relies on defaults
		}
		writeBadRequest(w, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   string(orcerrors.BadRequest),
		"message": msg,
	})
}
