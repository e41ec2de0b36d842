package handlers

import (
	"net/http"
	"time"

	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/proxy"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
)

// modelOwner is reported as owned_by in model listings.
const modelOwner = "xai"

// ModelsHandler serves GET /v1/models from the catalog.
type ModelsHandler struct {
	catalog *catalog.Catalog
	created int64
}

// NewModelsHandler creates a model listing handler.
func NewModelsHandler(cat *catalog.Catalog) *ModelsHandler {
	return &ModelsHandler{
		catalog: cat,
		created: time.Now().Unix(),
	}
}

// ServeHTTP implements http.Handler.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models := h.catalog.List()
	list := types.ModelList{
		Object: "list",
		Data:   make([]types.ModelInfo, 0, len(models)),
	}
	for _, m := range models {
		list.Data = append(list.Data, types.ModelInfo{
			ID:      m.ID,
			Object:  "model",
			Created: h.created,
			OwnedBy: modelOwner,
		})
	}

	_ = proxy.WriteJSON(w, http.StatusOK, list)
}
