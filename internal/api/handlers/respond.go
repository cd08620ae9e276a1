// Package handlers serves the read and trigger endpoints of the control plane.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
)

// respondJSON encodes before writing the header so an unencodable value
// (NaN metrics) becomes a 500 instead of a truncated body.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "response encoding failed: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrNotFound), errors.Is(err, deployer.ErrUnknownDeployment):
		return http.StatusNotFound
	case errors.Is(err, deployer.ErrNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
