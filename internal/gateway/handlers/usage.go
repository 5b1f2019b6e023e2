package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/keywheel/keywheel/internal/gateway/admission"
)

type UsageHandler struct {
	registry *admission.Registry
}

func NewUsageHandler(registry *admission.Registry) *UsageHandler {
	return &UsageHandler{registry: registry}
}

// HandleUsage handles GET /v1/usage
func (h *UsageHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.registry.Snapshot())
}
