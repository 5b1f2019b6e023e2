package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/keywheel/keywheel/internal/gateway/admission"
)

type ModelsHandler struct {
	source   ProviderSource
	resolver *admission.Resolver
}

func NewModelsHandler(source ProviderSource, resolver *admission.Resolver) *ModelsHandler {
	return &ModelsHandler{
		source:   source,
		resolver: resolver,
	}
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// HandleListModels handles GET /v1/models. The catalogue is the synthetic
// auto-model plus its fallback candidates; the gateway forwards any model its
// providers serve, so the list is advisory rather than exhaustive.
func (h *ModelsHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	list := modelList{
		Object: "list",
		Data: []modelEntry{
			{ID: autoModel, Object: "model", OwnedBy: "keywheel"},
		},
	}

	for _, candidate := range h.resolver.Candidates() {
		if candidate == autoModel {
			continue
		}

		owner := "unknown"
		if provider, ok := h.source.LookupProvider(candidate); ok {
			owner = provider
		}
		list.Data = append(list.Data, modelEntry{ID: candidate, Object: "model", OwnedBy: owner})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}
