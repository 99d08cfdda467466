package handlers

import (
	"encoding/json"
	"net/http"
)

// VersionResponse is the GET /version body.
type VersionResponse struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	HandlerVersion string `json:"handler_version"`
}

// NewVersionHandler serves the static build identity.
func NewVersionHandler(name, version, handlerVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(VersionResponse{
			Name:           name,
			Version:        version,
			HandlerVersion: handlerVersion,
		})
	}
}
