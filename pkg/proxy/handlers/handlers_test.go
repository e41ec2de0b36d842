package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/imagews"
	"github.com/tanranv5/grok2api/pkg/orchestrator"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
	"github.com/tanranv5/grok2api/pkg/reqlog"
	"github.com/tanranv5/grok2api/pkg/token"
)

const testCatalogYAML = `
aliases:
  grok-latest: grok-4
  grok-imagine: grok-imagine-1
models:
  - id: grok-4
    upstream_model: grok-4
    mode: MODEL_MODE_EXPERT
    tier: super
    cost: high
    display_name: Grok 4
  - id: grok-3
    upstream_model: grok-3
    display_name: Grok 3
  - id: grok-imagine-1
    upstream_model: grok-imagine
    display_name: Grok Imagine
    is_image: true
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

// fakeRunner satisfies Runner with a scripted NDJSON body or error.
type fakeRunner struct {
	body    string
	err     error
	lastReq orchestrator.Request
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.Request, handle orchestrator.HandleFunc) error {
	f.lastReq = req
	if f.err != nil {
		return f.err
	}
	res := &orchestrator.Result{
		Response:   &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(f.body))},
		Credential: token.Credential{ID: "sso-session-abcdef", Kind: token.KindStandard, Status: token.StatusActive},
		Attempts:   1,
	}
	_, err := handle(ctx, res)
	return err
}

type fakeSessions struct {
	results []imagews.Result
	lastP   imagews.Params
}

func (f *fakeSessions) Generate(ctx context.Context, cookie string, p imagews.Params) []imagews.Result {
	f.lastP = p
	return f.results
}

func (f *fakeSessions) Stream(ctx context.Context, cookie string, p imagews.Params) <-chan imagews.Event {
	f.lastP = p
	ch := make(chan imagews.Event)
	go func() {
		defer close(ch)
		for _, res := range f.results {
			select {
			case ch <- imagews.Event{Frame: res.Frame, Err: res.Err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

type fakeAssets struct {
	content []byte
	err     error
}

func (f *fakeAssets) DownloadAsset(ctx context.Context, cred token.Credential, ref string) ([]byte, error) {
	return f.content, f.err
}

func chatBody(t *testing.T, model, content string, stream bool) *bytes.Reader {
	t.Helper()
	payload := map[string]interface{}{
		"model": model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
		"stream": stream,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestChatHandlerBuffered(t *testing.T) {
	runner := &fakeRunner{body: strings.Join([]string{
		`{"result":{"response":{"token":"Hello"}}}`,
		`{"result":{"response":{"token":" world"}}}`,
	}, "\n")}
	h := NewChatHandler(testCatalog(t), runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, "grok-3", "hi", false))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "Hello world" {
		t.Errorf("content = %q, want %q", got, "Hello world")
	}
	if runner.lastReq.Model.ID != "grok-3" {
		t.Errorf("model = %q", runner.lastReq.Model.ID)
	}
}

func TestChatHandlerResolvesAlias(t *testing.T) {
	runner := &fakeRunner{body: `{"result":{"response":{"token":"ok"}}}`}
	h := NewChatHandler(testCatalog(t), runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, "grok-latest", "hi", false))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if runner.lastReq.Model.ID != "grok-4" {
		t.Errorf("model = %q, want grok-4 via alias", runner.lastReq.Model.ID)
	}
}

func TestChatHandlerStreaming(t *testing.T) {
	runner := &fakeRunner{body: strings.Join([]string{
		`{"result":{"response":{"token":"Hi"}}}`,
		`{"result":{"response":{"token":" there"}}}`,
	}, "\n")}
	h := NewChatHandler(testCatalog(t), runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, "grok-3", "hi", true))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"content":"Hi"`) {
		t.Errorf("missing token chunk in %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream not terminated with [DONE]: %q", body)
	}
}

func TestChatHandlerUnknownModel(t *testing.T) {
	h := NewChatHandler(testCatalog(t), &fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, "grok-9", "hi", false))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != types.CodeModelNotFound {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestChatHandlerNoCredential(t *testing.T) {
	h := NewChatHandler(testCatalog(t), &fakeRunner{err: token.ErrNoCredential}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatBody(t, "grok-3", "hi", false))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func newImagesPool(t *testing.T) *token.Pool {
	t.Helper()
	store := token.NewMemoryStore()
	_, err := store.Insert(context.Background(), []token.Credential{
		{ID: "sso-session-abcdef", Kind: token.KindStandard, Status: token.StatusActive},
	})
	if err != nil {
		t.Fatal(err)
	}
	return token.NewPool(store, config.CooldownConfig{}, nil)
}

func TestImagesGenerationsOverWS(t *testing.T) {
	sessions := &fakeSessions{results: []imagews.Result{
		{Frame: &imagews.Frame{ImageID: "a", Stage: imagews.StageFinal, IsFinal: true, Payload: "YWFh", AssetURL: "users/u/a.jpg"}},
		{Frame: &imagews.Frame{ImageID: "b", Stage: imagews.StageFinal, IsFinal: true, Payload: "YmJi", AssetURL: "users/u/b.jpg"}},
	}}
	h := NewImagesHandler(testCatalog(t), &fakeRunner{}, sessions, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"a red fox","n":2,"response_format":"b64_json"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp types.ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("data = %+v, want 2 entries", resp.Data)
	}
	if resp.Data[0].B64JSON != "YWFh" {
		t.Errorf("b64 = %q", resp.Data[0].B64JSON)
	}
	if sessions.lastP.N != 2 {
		t.Errorf("session n = %d, want 2", sessions.lastP.N)
	}
}

func TestImagesGenerationsWSPadsFailures(t *testing.T) {
	sessions := &fakeSessions{results: []imagews.Result{
		{Frame: &imagews.Frame{ImageID: "a", IsFinal: true, AssetURL: "users/u/a.jpg"}},
		{Err: &imagews.SessionError{Code: "image_generation_failed", Message: "fewer images than requested"}},
	}}
	h := NewImagesHandler(testCatalog(t), &fakeRunner{}, sessions, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"a red fox","n":2}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp types.ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data[0].URL != "https://assets.grok.com/users/u/a.jpg" {
		t.Errorf("url = %q", resp.Data[0].URL)
	}
	if !strings.Contains(resp.Data[1].RevisedPrompt, "generation failed") {
		t.Errorf("placeholder = %+v", resp.Data[1])
	}
}

func TestImagesGenerationsWSStreamsFrames(t *testing.T) {
	// Streaming must forward each frame as its own SSE event while the
	// session runs, preview stages included.
	sessions := &fakeSessions{results: []imagews.Result{
		{Frame: &imagews.Frame{ImageID: "a", Stage: imagews.StagePreview, AssetURL: "users/u/a.webp"}},
		{Frame: &imagews.Frame{ImageID: "a", Stage: imagews.StageFinal, IsFinal: true, AssetURL: "users/u/a.jpg"}},
	}}
	h := NewImagesHandler(testCatalog(t), &fakeRunner{}, sessions, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"a red fox","stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", got)
	}

	raw := rec.Body.String()
	events := strings.Split(strings.TrimSpace(raw), "\n\n")
	if len(events) != 3 {
		t.Fatalf("got %d events, want preview, final, then [DONE]: %q", len(events), raw)
	}
	if events[2] != "data: [DONE]" {
		t.Errorf("stream not terminated: %q", events[2])
	}
	var first types.ImageResponse
	if err := json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &first); err != nil {
		t.Fatal(err)
	}
	if len(first.Data) != 1 || first.Data[0].URL != "https://assets.grok.com/users/u/a.webp" {
		t.Errorf("first event = %+v, want the preview frame", first.Data)
	}
	var second types.ImageResponse
	if err := json.Unmarshal([]byte(strings.TrimPrefix(events[1], "data: ")), &second); err != nil {
		t.Fatal(err)
	}
	if len(second.Data) != 1 || second.Data[0].URL != "https://assets.grok.com/users/u/a.jpg" {
		t.Errorf("second event = %+v, want the final frame", second.Data)
	}
}

func TestImagesGenerationsWSStreamSurfacesError(t *testing.T) {
	sessions := &fakeSessions{results: []imagews.Result{
		{Err: &imagews.SessionError{Code: "blocked_no_final_image", Message: "no final image after medium stage"}},
	}}
	h := NewImagesHandler(testCatalog(t), &fakeRunner{}, sessions, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"a red fox","stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	raw := rec.Body.String()
	if !strings.Contains(raw, "blocked_no_final_image") {
		t.Errorf("error event missing from stream: %q", raw)
	}
	if !strings.HasSuffix(strings.TrimSpace(raw), "data: [DONE]") {
		t.Errorf("stream not terminated: %q", raw)
	}
}

func TestImagesGenerationsWSTotalFailure(t *testing.T) {
	sessions := &fakeSessions{results: []imagews.Result{
		{Err: &imagews.SessionError{Code: "connect_failed", Message: "dial refused"}},
	}}
	h := NewImagesHandler(testCatalog(t), &fakeRunner{}, sessions, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"a red fox"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestImagesGenerationsFallback(t *testing.T) {
	runner := &fakeRunner{body: `{"result":{"response":{"modelResponse":{"message":"done","generatedImageUrls":["users/u/a.jpg","users/u/b.jpg"]}}}}`}
	h := NewImagesHandler(testCatalog(t), runner, nil, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"a red fox","n":3}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp types.ImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("data = %+v, want exactly 3 entries", resp.Data)
	}
	if resp.Data[0].URL != "https://assets.grok.com/users/u/a.jpg" {
		t.Errorf("url = %q", resp.Data[0].URL)
	}
	if resp.Data[2].RevisedPrompt == "" {
		t.Errorf("missing padding placeholder: %+v", resp.Data[2])
	}
	if runner.lastReq.GenerationCount != 3 {
		t.Errorf("generation count = %d", runner.lastReq.GenerationCount)
	}
}

func TestImagesGenerationsRejectsChatModel(t *testing.T) {
	h := NewImagesHandler(testCatalog(t), &fakeRunner{}, nil, newImagesPool(t), &fakeAssets{})

	body := `{"prompt":"x","model":"grok-3"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Generations(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for non-image model", rec.Code)
	}
}

func TestModelsHandler(t *testing.T) {
	h := NewModelsHandler(testCatalog(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list types.ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Object != "list" || len(list.Data) != 3 {
		t.Fatalf("list = %+v", list)
	}
}

func TestReadyHandler(t *testing.T) {
	store := token.NewMemoryStore()
	h := NewReadyHandler(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty store: status = %d, want 503", rec.Code)
	}

	if _, err := store.Insert(context.Background(), []token.Credential{
		{ID: "sso-session-abcdef", Status: token.StatusActive},
	}); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("populated store: status = %d, want 200", rec.Code)
	}
}

func newAdminHandler(t *testing.T) (*AdminHandler, token.Store) {
	t.Helper()
	store := token.NewMemoryStore()
	pool := token.NewPool(store, config.CooldownConfig{}, nil)
	cfg := config.TokenConfig{RefreshConcurrency: 2, RefreshStaleness: 5 * time.Minute}
	return NewAdminHandler(pool, reqlog.NewMemoryStore(), cfg), store
}

func TestAdminTokensLifecycle(t *testing.T) {
	h, store := newAdminHandler(t)

	body := `{"tokens":["sso-first-abc123","sso-second-def456"],"kind":"elevated"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Tokens(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("add: status = %d, body %s", rec.Code, rec.Body)
	}

	creds, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 2 || creds[0].Kind != token.KindElevated {
		t.Fatalf("creds = %+v", creds)
	}

	rec = httptest.NewRecorder()
	h.Tokens(rec, httptest.NewRequest(http.MethodGet, "/admin/tokens", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sso-first-abc123") {
		t.Error("listing leaked a full credential secret")
	}
	if !strings.Contains(rec.Body.String(), "abc123") {
		t.Error("listing missing credential suffix")
	}

	del := `{"tokens":["sso-first-abc123"]}`
	rec = httptest.NewRecorder()
	h.Tokens(rec, httptest.NewRequest(http.MethodDelete, "/admin/tokens", strings.NewReader(del)))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	creds, _ = store.List(context.Background())
	if len(creds) != 1 {
		t.Fatalf("after delete creds = %+v", creds)
	}
}

func TestAdminTokensRejectsBadKind(t *testing.T) {
	h, _ := newAdminHandler(t)

	body := `{"tokens":["sso-x"],"kind":"golden"}`
	rec := httptest.NewRecorder()
	h.Tokens(rec, httptest.NewRequest(http.MethodPost, "/admin/tokens", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminRefreshConflict(t *testing.T) {
	h, store := newAdminHandler(t)

	ok, _, err := store.TryStartRefresh(context.Background(), 10, false)
	if err != nil || !ok {
		t.Fatalf("seed running refresh: ok=%v err=%v", ok, err)
	}

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/admin/tokens/refresh", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"running":true`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestAdminRequestsPrune(t *testing.T) {
	store := token.NewMemoryStore()
	pool := token.NewPool(store, config.CooldownConfig{}, nil)
	logs := reqlog.NewMemoryStore()
	if err := logs.Insert(context.Background(), reqlog.Record{ID: "r1", Time: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	h := NewAdminHandler(pool, logs, config.TokenConfig{})

	rec := httptest.NewRecorder()
	h.Requests(rec, httptest.NewRequest(http.MethodDelete, "/admin/requests", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("prune status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"removed":1`) {
		t.Errorf("body = %s", rec.Body)
	}

	records, err := logs.List(context.Background(), reqlog.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want empty after prune", records)
	}
}

func TestAdminRequestsValidation(t *testing.T) {
	h, _ := newAdminHandler(t)

	rec := httptest.NewRecorder()
	h.Requests(rec, httptest.NewRequest(http.MethodGet, "/admin/requests?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Requests(rec, httptest.NewRequest(http.MethodGet, "/admin/requests?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
