package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/proxy"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
	"github.com/tanranv5/grok2api/pkg/reqlog"
	"github.com/tanranv5/grok2api/pkg/token"
)

// AdminHandler serves the credential and request-log management API
// under /admin.
type AdminHandler struct {
	pool   *token.Pool
	logs   reqlog.Store
	cfg    config.TokenConfig
	logger *slog.Logger
}

// NewAdminHandler creates the admin API handler. logs may be nil when
// request logging is disabled.
func NewAdminHandler(pool *token.Pool, logs reqlog.Store, cfg config.TokenConfig) *AdminHandler {
	return &AdminHandler{
		pool:   pool,
		logs:   logs,
		cfg:    cfg,
		logger: slog.Default().With("component", "handlers.admin"),
	}
}

// Register wires the admin routes onto the mux.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/tokens", h.Tokens)
	mux.HandleFunc("/admin/tokens/refresh", h.Refresh)
	mux.HandleFunc("/admin/requests", h.Requests)
}

// credentialSummary is one row of the credential listing. The secret
// itself never leaves the store; only its suffix is reported.
type credentialSummary struct {
	Suffix            string       `json:"suffix"`
	Kind              token.Kind   `json:"kind"`
	Status            token.Status `json:"status"`
	RemainingQueries  int          `json:"remaining_queries"`
	RemainingElevated int          `json:"remaining_elevated,omitempty"`
	CooldownUntil     time.Time    `json:"cooldown_until,omitempty"`
	LastUsedAt        time.Time    `json:"last_used_at,omitempty"`
	Note              string       `json:"note,omitempty"`
	Tags              []string     `json:"tags,omitempty"`
}

type tokensRequest struct {
	Tokens []string   `json:"tokens"`
	Kind   token.Kind `json:"kind"`
}

// Tokens handles GET (list), POST (bulk add), and DELETE (bulk remove)
// on /admin/tokens.
func (h *AdminHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTokens(w, r)
	case http.MethodPost:
		h.addTokens(w, r)
	case http.MethodDelete:
		h.deleteTokens(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdminHandler) listTokens(w http.ResponseWriter, r *http.Request) {
	creds, err := h.pool.Store().List(r.Context())
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	summaries := make([]credentialSummary, 0, len(creds))
	for _, c := range creds {
		summaries = append(summaries, credentialSummary{
			Suffix:            c.Suffix(),
			Kind:              c.Kind,
			Status:            c.Status,
			RemainingQueries:  c.RemainingQueries,
			RemainingElevated: c.RemainingElevated,
			CooldownUntil:     c.CooldownUntil,
			LastUsedAt:        c.LastUsedAt,
			Note:              c.Note,
			Tags:              c.Tags,
		})
	}

	_ = proxy.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":  len(summaries),
		"tokens": summaries,
	})
}

func (h *AdminHandler) addTokens(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTokensRequest(r)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = token.KindStandard
	}
	if kind != token.KindStandard && kind != token.KindElevated {
		_ = proxy.WriteError(w, proxy.HandleError(
			proxy.NewValidationError("kind must be \"standard\" or \"elevated\"", "kind", ""),
		))
		return
	}

	creds := make([]token.Credential, 0, len(req.Tokens))
	for _, t := range req.Tokens {
		creds = append(creds, token.Credential{ID: t, Kind: kind})
	}

	added, err := h.pool.Store().Insert(r.Context(), creds)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	h.logger.Info("credentials added", "requested", len(req.Tokens), "added", added)
	_ = proxy.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(req.Tokens),
		"added":     added,
	})
}

func (h *AdminHandler) deleteTokens(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTokensRequest(r)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	deleted, err := h.pool.Store().Delete(r.Context(), req.Tokens)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	h.logger.Info("credentials deleted", "requested", len(req.Tokens), "deleted", deleted)
	_ = proxy.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(req.Tokens),
		"deleted":   deleted,
	})
}

func decodeTokensRequest(r *http.Request) (*tokensRequest, error) {
	var req tokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, proxy.NewValidationError("invalid JSON in request body", "", types.CodeInvalidJSON)
	}
	if len(req.Tokens) == 0 {
		return nil, proxy.NewValidationError("missing required field: tokens", "tokens", types.CodeMissingField)
	}
	return &req, nil
}

// Refresh handles POST (trigger) and GET (progress) on
// /admin/tokens/refresh. At most one bulk refresh runs at a time; a
// trigger while one is running returns 409 with the current snapshot.
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.refreshProgress(w, r)
	case http.MethodPost:
		h.triggerRefresh(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdminHandler) refreshProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.pool.Store().RefreshProgress(r.Context())
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}
	_ = proxy.WriteJSON(w, http.StatusOK, progressPayload(progress))
}

func (h *AdminHandler) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	progress, err := h.pool.Store().RefreshProgress(r.Context())
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}
	if progress.Running && !progress.Stale(h.cfg.RefreshStaleness, time.Now()) {
		_ = proxy.WriteJSON(w, http.StatusConflict, progressPayload(progress))
		return
	}

	creds, err := h.pool.Store().List(r.Context())
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	// The revalidation outlives the admin request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, err := h.pool.BulkRevalidate(ctx, creds, h.cfg.RefreshConcurrency, h.cfg.RefreshStaleness)
		if err != nil {
			h.logger.Warn("bulk refresh did not run", "error", err)
			return
		}
		h.logger.Info("bulk refresh finished",
			"total", result.Total,
			"success", result.Success,
			"failed", result.Failed,
		)
	}()

	_ = proxy.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": true,
		"total":   len(creds),
	})
}

func progressPayload(p token.RefreshProgress) map[string]interface{} {
	payload := map[string]interface{}{
		"running": p.Running,
		"current": p.Current,
		"total":   p.Total,
		"success": p.Success,
		"failed":  p.Failed,
	}
	if !p.UpdatedAt.IsZero() {
		payload["updated_at"] = p.UpdatedAt
	}
	return payload
}

// Requests handles GET (list) and DELETE (prune) on /admin/requests.
// Listing supports limit, model, and since query parameters; pruning
// accepts an optional before cutoff and defaults to clearing all.
func (h *AdminHandler) Requests(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		_ = proxy.WriteError(w, proxy.HandleError(
			proxy.NewValidationError("request logging is disabled", "", ""),
		))
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		h.pruneRequests(w, r)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := reqlog.Query{Model: r.URL.Query().Get("model")}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			_ = proxy.WriteError(w, proxy.HandleError(
				proxy.NewValidationError("limit must be a positive integer", "limit", ""),
			))
			return
		}
		q.Limit = n
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			_ = proxy.WriteError(w, proxy.HandleError(
				proxy.NewValidationError("since must be an RFC 3339 timestamp", "since", ""),
			))
			return
		}
		q.Since = t
	}

	records, err := h.logs.List(r.Context(), q)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	_ = proxy.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(records),
		"requests": records,
	})
}

func (h *AdminHandler) pruneRequests(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now()
	if before := r.URL.Query().Get("before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			_ = proxy.WriteError(w, proxy.HandleError(
				proxy.NewValidationError("before must be an RFC 3339 timestamp", "before", ""),
			))
			return
		}
		cutoff = t
	}

	removed, err := h.logs.Prune(r.Context(), cutoff)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	h.logger.Info("request logs pruned", "removed", removed)
	_ = proxy.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}
