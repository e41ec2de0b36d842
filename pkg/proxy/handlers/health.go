package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/tanranv5/grok2api/pkg/proxy"
	"github.com/tanranv5/grok2api/pkg/token"
)

// HealthHandler serves GET /health for liveness probes.
type HealthHandler struct{}

// NewHealthHandler creates a liveness handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_ = proxy.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// ReadyHandler serves GET /ready. The gateway is ready when at least
// one active credential exists.
type ReadyHandler struct {
	store token.Store
}

// NewReadyHandler creates a readiness handler.
func NewReadyHandler(store token.Store) *ReadyHandler {
	return &ReadyHandler{store: store}
}

// ServeHTTP implements http.Handler.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	creds, err := h.store.List(ctx)
	if err != nil {
		_ = proxy.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}

	active := 0
	for _, c := range creds {
		if c.Status == token.StatusActive {
			active++
		}
	}

	status := "ready"
	code := http.StatusOK
	if active == 0 {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	_ = proxy.WriteJSON(w, code, map[string]interface{}{
		"status":             status,
		"active_credentials": active,
		"total_credentials":  len(creds),
	})
}
