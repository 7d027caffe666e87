// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
)

// HealthStatus is the fixed liveness payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// healthHandler answers GET /health with a payload encoded once up front.
type healthHandler struct {
	payload []byte
}

func newHealthHandler(cfg config.Config) *healthHandler {
	// Marshalling three strings cannot fail.
	payload, _ := json.Marshal(HealthStatus{
		Status:  "ok",
		Service: cfg.ServiceName,
		Version: cfg.ServiceVersion,
	})
	return &healthHandler{payload: payload}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.payload)
}
