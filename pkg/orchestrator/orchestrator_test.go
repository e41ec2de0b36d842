package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/token"
)

var chatModel = catalog.Model{
	ID:            "grok-4",
	UpstreamModel: "grok-4",
	Mode:          "MODEL_MODE_FAST",
	Tier:          catalog.TierBasic,
}

// fakeUpstream scripts OpenConversation results per attempt.
type fakeUpstream struct {
	calls     int
	responses []any // *http.Response or error, consumed in order
	uploadIDs []string
	uploadErr error
	postID    string
	postErr   error
	postCalls int
}

func (f *fakeUpstream) OpenConversation(ctx context.Context, cred token.Credential, payload *grok.ConversationPayload) (*http.Response, error) {
	f.calls++
	if len(f.responses) == 0 {
		return okResponse(), nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*http.Response), nil
}

func (f *fakeUpstream) UploadAll(ctx context.Context, cred token.Credential, atts []grok.Attachment) ([]string, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if len(atts) == 0 {
		return nil, nil
	}
	return f.uploadIDs, nil
}

func (f *fakeUpstream) CreatePost(ctx context.Context, cred token.Credential, assetID, intent string) (string, error) {
	f.postCalls++
	return f.postID, f.postErr
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"result":{"response":{"token":"hi"}}}` + "\n")),
	}
}

func retryCfg(maxAttempts int, codes []int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:          maxAttempts,
		BackoffBase:          time.Millisecond,
		BackoffFactor:        2.0,
		BackoffCeiling:       30 * time.Second,
		RetryableStatusCodes: codes,
		RetryOnNetworkError:  boolPtr(true),
	}
}

func boolPtr(b bool) *bool { return &b }

func newTestOrchestrator(t *testing.T, upstream Upstream, cfg config.RetryConfig) (*Orchestrator, *[]Outcome) {
	t.Helper()
	store := token.NewMemoryStore()
	if _, err := store.Insert(context.Background(), testCredentials()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	pool := token.NewPool(store, config.CooldownConfig{
		Auth: 30 * time.Minute, RateLimit: 5 * time.Minute, Server: time.Minute, Network: time.Minute,
	}, nil)

	var outcomes []Outcome
	sink := OutcomeFunc(func(o Outcome) { outcomes = append(outcomes, o) })

	builder := grok.NewPayloadBuilder("https://grok.com", "imagine-anime")
	o := New(pool, upstream, builder, cfg, sink)
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return o, &outcomes
}

func testCredentials() []token.Credential {
	return []token.Credential{
		{ID: "cred-one-abcdef", Kind: token.KindStandard, Status: token.StatusActive},
		{ID: "cred-two-ghijkl", Kind: token.KindStandard, Status: token.StatusActive},
		{ID: "cred-thr-mnopqr", Kind: token.KindStandard, Status: token.StatusActive},
	}
}

func passthrough(status int) HandleFunc {
	return func(ctx context.Context, res *Result) (int, error) {
		res.Response.Body.Close()
		return status, nil
	}
}

func TestRunSuccessFirstAttempt(t *testing.T) {
	upstream := &fakeUpstream{}
	o, outcomes := newTestOrchestrator(t, upstream, retryCfg(3, []int{401, 429}))

	err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}
	if len(*outcomes) != 1 {
		t.Fatalf("outcomes = %d, want exactly 1", len(*outcomes))
	}
	out := (*outcomes)[0]
	if out.Status != 200 || out.Attempts != 1 || out.Error != "" {
		t.Errorf("outcome = %+v", out)
	}
	if out.CredentialSuffix == "" {
		t.Error("outcome missing credential suffix")
	}
}

func TestRunRetriesRetryableStatus(t *testing.T) {
	// Three consecutive 429s with maxAttempts 3: exactly 3 attempts,
	// last error surfaced.
	upstream := &fakeUpstream{responses: []any{
		&grok.UpstreamError{StatusCode: 429, Body: "rate limited"},
		&grok.UpstreamError{StatusCode: 429, Body: "rate limited"},
		&grok.UpstreamError{StatusCode: 429, Body: "rate limited"},
	}}
	o, outcomes := newTestOrchestrator(t, upstream, retryCfg(3, []int{401, 429}))

	err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200))
	var ue *grok.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 429 {
		t.Fatalf("error = %v, want final 429", err)
	}
	if upstream.calls != 3 {
		t.Errorf("upstream calls = %d, want 3", upstream.calls)
	}
	if len(*outcomes) != 1 || (*outcomes)[0].Attempts != 3 || (*outcomes)[0].Status != 429 {
		t.Errorf("outcomes = %+v", *outcomes)
	}
}

func TestRunDoesNotRetryNonRetryableStatus(t *testing.T) {
	upstream := &fakeUpstream{responses: []any{
		&grok.UpstreamError{StatusCode: 500, Body: "boom"},
	}}
	o, outcomes := newTestOrchestrator(t, upstream, retryCfg(3, []int{401, 429}))

	err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200))
	if err == nil {
		t.Fatal("Run() succeeded, want error")
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 500)", upstream.calls)
	}
	if (*outcomes)[0].Status != 500 {
		t.Errorf("outcome status = %d", (*outcomes)[0].Status)
	}
}

func TestRunRetriesNetworkError(t *testing.T) {
	upstream := &fakeUpstream{responses: []any{
		errors.New("connection reset by peer"),
		okResponse(),
	}}
	o, _ := newTestOrchestrator(t, upstream, retryCfg(3, []int{401, 429}))

	err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if upstream.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", upstream.calls)
	}
}

func TestRunNetworkErrorRetryDisabled(t *testing.T) {
	cfg := retryCfg(3, []int{401, 429})
	cfg.RetryOnNetworkError = boolPtr(false)
	upstream := &fakeUpstream{responses: []any{errors.New("connection refused")}}
	o, _ := newTestOrchestrator(t, upstream, cfg)

	if err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200)); err == nil {
		t.Fatal("Run() succeeded, want terminal network error")
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}
}

func TestRunBudgetPreventsNextAttempt(t *testing.T) {
	cfg := retryCfg(3, []int{429})
	cfg.BackoffBase = 5 * time.Second
	cfg.RetryBudget = time.Second

	upstream := &fakeUpstream{responses: []any{
		&grok.UpstreamError{StatusCode: 429},
		okResponse(),
	}}
	o, _ := newTestOrchestrator(t, upstream, cfg)

	slept := false
	o.sleep = func(ctx context.Context, d time.Duration) error {
		slept = true
		return nil
	}

	if err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200)); err == nil {
		t.Fatal("Run() succeeded, want budget exhaustion with the 429")
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (budget blocks attempt 2)", upstream.calls)
	}
	if slept {
		t.Error("orchestrator slept past the budget")
	}
}

func TestRunNoCredential(t *testing.T) {
	store := token.NewMemoryStore()
	pool := token.NewPool(store, config.CooldownConfig{}, nil)

	var outcomes []Outcome
	o := New(pool, &fakeUpstream{}, grok.NewPayloadBuilder("https://grok.com", "imagine-anime"),
		retryCfg(3, []int{429}), OutcomeFunc(func(out Outcome) { outcomes = append(outcomes, out) }))

	err := o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200))
	if !errors.Is(err, token.ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != http.StatusServiceUnavailable {
		t.Errorf("outcomes = %+v, want one 503", outcomes)
	}
	if outcomes[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (admission errors never retry)", outcomes[0].Attempts)
	}
}

func TestRunFailureAppliesCooldown(t *testing.T) {
	upstream := &fakeUpstream{responses: []any{
		&grok.UpstreamError{StatusCode: 429, Body: "rate limited"},
	}}
	o, _ := newTestOrchestrator(t, upstream, retryCfg(1, []int{429}))

	o.Run(context.Background(), Request{Model: chatModel, Message: "hi"}, passthrough(200))

	creds, _ := o.pool.Store().List(context.Background())
	cooling := 0
	for _, c := range creds {
		if !c.CooldownUntil.IsZero() {
			cooling++
		}
	}
	if cooling != 1 {
		t.Errorf("%d credentials cooling down, want exactly the one that failed", cooling)
	}
}

func TestRunVideoModelCreatesPost(t *testing.T) {
	upstream := &fakeUpstream{postID: "post-1"}
	o, _ := newTestOrchestrator(t, upstream, retryCfg(1, nil))

	video := chatModel
	video.ID = "grok-video-1"
	video.IsVideo = true

	err := o.Run(context.Background(), Request{Model: video, Message: "a rocket"}, passthrough(200))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if upstream.postCalls != 1 {
		t.Errorf("post calls = %d, want 1", upstream.postCalls)
	}
}

func TestRunVideoPostFailureIsTerminal(t *testing.T) {
	upstream := &fakeUpstream{postErr: errors.New("post rejected")}
	o, _ := newTestOrchestrator(t, upstream, retryCfg(3, []int{429}))

	video := chatModel
	video.IsVideo = true

	if err := o.Run(context.Background(), Request{Model: video, Message: "x"}, passthrough(200)); err == nil {
		t.Fatal("Run() succeeded, want error from required post")
	}
	if upstream.calls != 0 {
		t.Errorf("upstream conversation called %d times despite post failure", upstream.calls)
	}
}

func TestRunEditPostFailureDegrades(t *testing.T) {
	// A failed best-effort edit-context post must not fail the request.
	upstream := &fakeUpstream{
		postErr:   errors.New("post rejected"),
		uploadIDs: []string{"asset-1"},
	}
	o, _ := newTestOrchestrator(t, upstream, retryCfg(1, nil))

	req := Request{
		Model:       chatModel,
		Message:     "make it blue",
		Attachments: []grok.Attachment{{FileName: "a.png", Content: []byte{1}}},
	}
	if err := o.Run(context.Background(), req, passthrough(200)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffBase:    time.Second,
		BackoffFactor:  2.0,
		BackoffCeiling: 30 * time.Second,
	}

	prev := time.Duration(0)
	for k := 0; k < 12; k++ {
		d := Backoff(cfg, k)
		if d < prev {
			t.Errorf("Backoff(%d) = %v, decreased from %v", k, d, prev)
		}
		if d > cfg.BackoffCeiling {
			t.Errorf("Backoff(%d) = %v exceeds ceiling", k, d)
		}
		prev = d
	}

	if got := Backoff(cfg, 0); got != time.Second {
		t.Errorf("Backoff(0) = %v, want 1s", got)
	}
	if got := Backoff(cfg, 2); got != 4*time.Second {
		t.Errorf("Backoff(2) = %v, want 4s", got)
	}
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "dns", err: errors.New("lookup grok.com: no such host"), want: true},
		{name: "tls", err: errors.New("tls: handshake failure"), want: true},
		{name: "timeout text", err: errors.New("request timed out"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "application error", err: errors.New("invalid payload shape"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNetworkError(tt.err); got != tt.want {
				t.Errorf("IsNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
