package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/intake/errors"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps a service error onto an HTTP status. Hints travel
// with the message so clients can show them.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		status = http.StatusBadRequest
	case errors.IsConflictError(err):
		status = http.StatusConflict
	case errors.IsServiceUnavailableError(err):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if hint := errors.FlattenHints(err); hint != "" {
		msg += " (" + hint + ")"
	}
	if status == http.StatusInternalServerError {
		s.logger.Errorw("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	writeError(w, status, msg)
}

// readJSON decodes a JSON request body, rejecting unknown fields
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return err
	}
	return nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
