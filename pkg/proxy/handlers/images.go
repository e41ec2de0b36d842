package handlers

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/tanranv5/grok2api/pkg/bridge"
	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/imagews"
	"github.com/tanranv5/grok2api/pkg/orchestrator"
	"github.com/tanranv5/grok2api/pkg/proxy"
	"github.com/tanranv5/grok2api/pkg/proxy/middleware"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
	"github.com/tanranv5/grok2api/pkg/token"
)

// defaultImageModel is used when an image request omits the model.
const defaultImageModel = "grok-imagine"

// ImagesHandler serves POST /v1/images/generations and
// /v1/images/edits. Generations prefer the websocket adapter when it
// is enabled and fall back to the conversation pipeline otherwise;
// edits always go through the conversation pipeline.
type ImagesHandler struct {
	catalog  *catalog.Catalog
	runner   Runner
	sessions ImageSessions
	pool     *token.Pool
	assets   AssetFetcher
	logger   *slog.Logger
}

// NewImagesHandler creates an image handler. sessions may be nil when
// the websocket adapter is disabled.
func NewImagesHandler(cat *catalog.Catalog, runner Runner, sessions ImageSessions, pool *token.Pool, assets AssetFetcher) *ImagesHandler {
	return &ImagesHandler{
		catalog:  cat,
		runner:   runner,
		sessions: sessions,
		pool:     pool,
		assets:   assets,
		logger:   slog.Default().With("component", "handlers.images"),
	}
}

// Generations handles POST /v1/images/generations.
func (h *ImagesHandler) Generations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := proxy.ParseImageGenerationRequest(r)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	model, ok := h.resolveImageModel(req.Model)
	if !ok {
		_ = proxy.WriteError(w, proxy.HandleError(proxy.NewModelNotFoundError(req.Model)))
		return
	}

	meta := middleware.GetRequestMeta(r.Context())
	if meta != nil {
		meta.SetModel(model.ID)
	}

	if h.sessions != nil {
		h.generateOverWS(w, r, req, model, meta)
		return
	}
	h.generateOverConversation(w, r, req, model, meta)
}

// generateOverWS collects finished frames from websocket sessions.
func (h *ImagesHandler) generateOverWS(w http.ResponseWriter, r *http.Request, req *types.ImageGenerationRequest, model catalog.Model, meta *middleware.RequestMeta) {
	ctx := r.Context()

	cred, err := h.pool.Select(ctx, model.Elevated())
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}
	if meta != nil {
		meta.SetOutcome(cred.Suffix(), 1, "")
	}

	params := imagews.Params{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio(),
		N:           req.N,
	}

	if req.Stream {
		h.streamOverWS(ctx, w, req, cred, params, meta)
		return
	}

	results := h.sessions.Generate(ctx, cred.ID, params)

	data := make([]types.ImageDatum, 0, len(results))
	gotFrame := false
	var firstErr *imagews.SessionError
	for _, res := range results {
		if res.Frame != nil {
			gotFrame = true
			data = append(data, h.frameDatum(ctx, cred, res.Frame, req.ResponseFormat))
			continue
		}
		if firstErr == nil {
			firstErr = res.Err
		}
		data = append(data, types.ImageDatum{RevisedPrompt: "generation failed: " + res.Err.Message})
	}

	if !gotFrame {
		err := error(firstErr)
		if firstErr == nil {
			err = &imagews.SessionError{Code: "image_generation_failed", Message: "no images produced"}
		}
		if meta != nil {
			meta.SetOutcome(cred.Suffix(), 1, err.Error())
		}
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	h.writeImages(w, false, data)
}

// streamOverWS forwards session frames as SSE events while generation
// runs. Preview and medium frames arrive as partial images; finals are
// the finished ones.
func (h *ImagesHandler) streamOverWS(ctx context.Context, w http.ResponseWriter, req *types.ImageGenerationRequest, cred token.Credential, params imagews.Params, meta *middleware.RequestMeta) {
	proxy.SetSSEHeaders(w)
	created := time.Now().Unix()

	finals := 0
	var lastErr *imagews.SessionError
	for ev := range h.sessions.Stream(ctx, cred.ID, params) {
		if ev.Err != nil {
			lastErr = ev.Err
			_ = proxy.WriteSSEEvent(w, types.NewError(types.ErrorTypeBadGateway, ev.Err.Message, ev.Err.Code))
			continue
		}
		if ev.Frame.IsFinal {
			finals++
		}
		_ = proxy.WriteSSEEvent(w, types.ImageResponse{
			Created: created,
			Data:    []types.ImageDatum{h.frameDatum(ctx, cred, ev.Frame, req.ResponseFormat)},
		})
	}
	_ = proxy.WriteSSEDone(w)

	if meta != nil {
		errText := ""
		if finals == 0 && lastErr != nil {
			errText = lastErr.Error()
		}
		meta.SetOutcome(cred.Suffix(), 1, errText)
	}
}

// generateOverConversation routes generation through the chat pipeline
// and reads asset URLs from the final model response.
func (h *ImagesHandler) generateOverConversation(w http.ResponseWriter, r *http.Request, req *types.ImageGenerationRequest, model catalog.Model, meta *middleware.RequestMeta) {
	oreq := orchestrator.Request{
		Model:           model,
		Message:         req.Prompt,
		GenerationCount: req.N,
		AspectRatio:     req.AspectRatio(),
	}

	handled := false
	runErr := h.runner.Run(r.Context(), oreq, func(ctx context.Context, res *orchestrator.Result) (int, error) {
		handled = true
		defer res.Response.Body.Close()
		if meta != nil {
			meta.SetOutcome(res.Credential.Suffix(), res.Attempts, "")
		}

		urls, err := bridge.CollectImageURLs(res.Response.Body)
		if err != nil {
			errResp := proxy.HandleError(err)
			_ = proxy.WriteError(w, errResp)
			return types.HTTPStatusCode(errResp.Error.Type), err
		}

		data := make([]types.ImageDatum, 0, req.N)
		for i := 0; i < req.N; i++ {
			if i < len(urls) {
				data = append(data, h.urlDatum(ctx, res.Credential, urls[i], req.ResponseFormat))
				continue
			}
			data = append(data, types.ImageDatum{RevisedPrompt: "generation failed: upstream yielded fewer images than requested"})
		}

		h.writeImages(w, req.Stream, data)
		return http.StatusOK, nil
	})

	if runErr != nil && !handled {
		if meta != nil {
			_, suffix, attempts, _ := meta.Snapshot()
			meta.SetOutcome(suffix, attempts, runErr.Error())
		}
		_ = proxy.WriteError(w, proxy.HandleError(runErr))
	}
}

// Edits handles POST /v1/images/edits.
func (h *ImagesHandler) Edits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := proxy.ParseImageEditRequest(r)
	if err != nil {
		_ = proxy.WriteError(w, proxy.HandleError(err))
		return
	}

	model, ok := h.resolveImageModel(req.Model)
	if !ok {
		_ = proxy.WriteError(w, proxy.HandleError(proxy.NewModelNotFoundError(req.Model)))
		return
	}

	meta := middleware.GetRequestMeta(r.Context())
	if meta != nil {
		meta.SetModel(model.ID)
	}

	oreq := orchestrator.Request{
		Model:           model,
		Message:         req.Prompt,
		Attachments:     req.Images,
		GenerationCount: req.N,
	}

	handled := false
	runErr := h.runner.Run(r.Context(), oreq, func(ctx context.Context, res *orchestrator.Result) (int, error) {
		handled = true
		defer res.Response.Body.Close()
		if meta != nil {
			meta.SetOutcome(res.Credential.Suffix(), res.Attempts, "")
		}

		urls, err := bridge.CollectImageURLs(res.Response.Body)
		if err != nil {
			errResp := proxy.HandleError(err)
			_ = proxy.WriteError(w, errResp)
			return types.HTTPStatusCode(errResp.Error.Type), err
		}

		data := make([]types.ImageDatum, 0, req.N)
		for i := 0; i < req.N; i++ {
			if i < len(urls) {
				data = append(data, h.urlDatum(ctx, res.Credential, urls[i], req.ResponseFormat))
				continue
			}
			data = append(data, types.ImageDatum{RevisedPrompt: "edit failed: upstream yielded fewer images than requested"})
		}

		h.writeImages(w, false, data)
		return http.StatusOK, nil
	})

	if runErr != nil && !handled {
		_ = proxy.WriteError(w, proxy.HandleError(runErr))
	}
}

// resolveImageModel resolves the requested model, defaulting to the
// catalog's image model, and verifies it is image-capable.
func (h *ImagesHandler) resolveImageModel(id string) (catalog.Model, bool) {
	if id == "" {
		id = defaultImageModel
	}
	model, ok := h.catalog.Get(id)
	if !ok || !model.IsImage {
		return catalog.Model{}, false
	}
	return model, true
}

// frameDatum converts a websocket frame to a response entry.
func (h *ImagesHandler) frameDatum(ctx context.Context, cred token.Credential, frame *imagews.Frame, format string) types.ImageDatum {
	if format == "b64_json" {
		if frame.Payload != "" {
			return types.ImageDatum{B64JSON: frame.Payload}
		}
		return h.downloadDatum(ctx, cred, frame.AssetURL)
	}
	if frame.AssetURL != "" {
		return types.ImageDatum{URL: grok.AssetURL(frame.AssetURL)}
	}
	return types.ImageDatum{URL: "data:image/jpeg;base64," + frame.Payload}
}

// urlDatum converts an asset URL to a response entry, downloading the
// bytes when base64 output was requested.
func (h *ImagesHandler) urlDatum(ctx context.Context, cred token.Credential, url, format string) types.ImageDatum {
	if format == "b64_json" {
		return h.downloadDatum(ctx, cred, url)
	}
	return types.ImageDatum{URL: grok.AssetURL(url)}
}

func (h *ImagesHandler) downloadDatum(ctx context.Context, cred token.Credential, url string) types.ImageDatum {
	content, err := h.assets.DownloadAsset(ctx, cred, url)
	if err != nil {
		h.logger.Warn("asset download failed, returning URL instead",
			"url", url,
			"error", err,
		)
		return types.ImageDatum{URL: grok.AssetURL(url)}
	}
	return types.ImageDatum{B64JSON: base64.StdEncoding.EncodeToString(content)}
}

// writeImages writes the final image response, either buffered or as
// one SSE event per image.
func (h *ImagesHandler) writeImages(w http.ResponseWriter, stream bool, data []types.ImageDatum) {
	created := time.Now().Unix()

	if !stream {
		_ = proxy.WriteJSON(w, http.StatusOK, types.ImageResponse{Created: created, Data: data})
		return
	}

	proxy.SetSSEHeaders(w)
	for _, datum := range data {
		_ = proxy.WriteSSEEvent(w, types.ImageResponse{
			Created: created,
			Data:    []types.ImageDatum{datum},
		})
	}
	_ = proxy.WriteSSEDone(w)
}
