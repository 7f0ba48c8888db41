// Package api exposes the search engine's HTTP surface: search,
// fetch, tokenize, per-document CRUD, maintenance mode, and shard lifecycle
// management operations.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ttts/models"
	"ttts/storage/pools"
)

// respondJSON writes a JSON response using a pooled encoder/buffer pair,
// falling back to plain json.Marshal if encoding fails.
func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	wrapper := pools.GetJSONEncoder()
	defer pools.PutJSONEncoder(wrapper)

	if err := wrapper.Encoder.Encode(payload); err != nil {
		body, _ := json.Marshal(payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(wrapper.Buffer.Bytes())
}

// respondError writes a JSON {"error": message} body at the given status.
func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// decodeJSON decodes a request body into v, rejecting unknown fields so
// malformed request shapes surface as 400s rather than being silently
// ignored.
func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusForError maps an engine error kind to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAdmissionDenied):
		return http.StatusConflict
	case errors.Is(err, models.ErrDuplicateExternalID):
		return http.StatusConflict
	case errors.Is(err, models.ErrContentless):
		return http.StatusConflict
	case errors.Is(err, models.ErrResourceExhausted):
		return http.StatusInsufficientStorage
	case errors.Is(err, models.ErrCorruption):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondEngineError writes the status/body pair for an error returned from
// the engine.
func respondEngineError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}
