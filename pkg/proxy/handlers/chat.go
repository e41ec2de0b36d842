package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tanranv5/grok2api/pkg/bridge"
	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/orchestrator"
	"github.com/tanranv5/grok2api/pkg/proxy"
	"github.com/tanranv5/grok2api/pkg/proxy/middleware"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
)

// ChatHandler serves POST /v1/chat/completions. Image and video models
// route through the same conversation pipeline; their output arrives as
// markdown asset links in the assistant message.
type ChatHandler struct {
	catalog      *catalog.Catalog
	runner       Runner
	filteredTags []string
	logger       *slog.Logger
}

// NewChatHandler creates a chat completions handler.
func NewChatHandler(cat *catalog.Catalog, runner Runner, filteredTags []string) *ChatHandler {
	return &ChatHandler{
		catalog:      cat,
		runner:       runner,
		filteredTags: filteredTags,
		logger:       slog.Default().With("component", "handlers.chat"),
	}
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := proxy.ParseChatCompletionRequest(r)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	model, ok := h.catalog.Get(req.Model)
	if !ok {
		_ = proxy.WriteError(w, proxy.HandleError(proxy.NewModelNotFoundError(req.Model)))
		return
	}

	meta := middleware.GetRequestMeta(r.Context())
	if meta != nil {
		meta.SetModel(model.ID)
	}

	message, imageURLs, err := types.Flatten(req.Messages)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(
			proxy.NewValidationError(err.Error(), "messages", ""),
		))
		return
	}

	attachments := make([]grok.Attachment, 0, len(imageURLs))
	for _, u := range imageURLs {
		att, err := proxy.DecodeDataURL(u)
		if err != nil {
			_ = proxy.WriteError(w, proxy.HandleError(err))
			return
		}
		attachments = append(attachments, att)
	}

	oreq := orchestrator.Request{
		Model:       model,
		Message:     message,
		Attachments: attachments,
		Stream:      req.Stream,
	}
	if model.IsImage {
		oreq.GenerationCount = 1
		if req.N != nil && *req.N > 0 {
			oreq.GenerationCount = *req.N
		}
	}

	handled := false
	runErr := h.runner.Run(r.Context(), oreq, func(ctx context.Context, res *orchestrator.Result) (int, error) {
		handled = true
		defer res.Response.Body.Close()
		if meta != nil {
			meta.SetOutcome(res.Credential.Suffix(), res.Attempts, "")
		}

		if req.Stream {
			proxy.SetSSEHeaders(w)
			status := http.StatusOK
			streamErr := bridge.ToSSE(res.Response.Body, w, bridge.StreamOptions{
				Model:        model.ID,
				FilteredTags: h.filteredTags,
				OnComplete: func(s int, d time.Duration, err error) {
					status = s
				},
			})
			return status, streamErr
		}

		completion, err := bridge.ToJSON(res.Response.Body, model.ID, h.filteredTags)
		if err != nil {
			errResp := proxy.HandleError(err)
			_ = proxy.WriteError(w, errResp)
			return types.HTTPStatusCode(errResp.Error.Type), err
		}
		if err := proxy.WriteJSON(w, http.StatusOK, completion); err != nil {
			return http.StatusOK, err
		}
		return http.StatusOK, nil
	})

	if runErr != nil {
		if meta != nil {
			_, suffix, attempts, _ := meta.Snapshot()
			meta.SetOutcome(suffix, attempts, runErr.Error())
		}
		if !handled {
			_ = proxy.WriteError(w, proxy.HandleError(runErr))
		}
	}
}
