package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/tanranv5/grok2api/pkg/catalog"
	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/token"
)

// Upstream is the provider surface the orchestrator drives. The
// production implementation is *grok.Client; tests inject fakes.
type Upstream interface {
	OpenConversation(ctx context.Context, cred token.Credential, payload *grok.ConversationPayload) (*http.Response, error)
	UploadAll(ctx context.Context, cred token.Credential, atts []grok.Attachment) ([]string, error)
	CreatePost(ctx context.Context, cred token.Credential, assetID, intent string) (string, error)
}

// Request is one normalized inbound request.
type Request struct {
	// Model is the resolved catalog entry.
	Model catalog.Model

	// Message is the flattened prompt text.
	Message string

	// Attachments are inbound images to host upstream.
	Attachments []grok.Attachment

	// Stream is the caller's streaming flag, carried for handlers.
	Stream bool

	// GenerationCount is how many images to generate, when applicable.
	GenerationCount int

	// AspectRatio applies to video and image generation.
	AspectRatio string
}

// Result is one successful upstream call. The caller owns Response.Body.
type Result struct {
	// Response carries the provider's NDJSON body.
	Response *http.Response

	// Credential is the session that served the call.
	Credential token.Credential

	// Attempts is how many attempts the loop consumed.
	Attempts int
}

// HandleFunc consumes a successful upstream response and returns the
// HTTP-equivalent status delivered to the client. For streaming
// responses this is the bridge's completion status.
type HandleFunc func(ctx context.Context, res *Result) (int, error)

// Outcome is the terminal record of one request.
type Outcome struct {
	// Model is the public model ID.
	Model string

	// CredentialSuffix identifies the last credential tried, if any.
	CredentialSuffix string

	// Status is the HTTP-equivalent terminal status. Zero means the
	// request died in transport before any status existed.
	Status int

	// Attempts is the number of attempts consumed.
	Attempts int

	// Duration is wall time for the whole attempt loop.
	Duration time.Duration

	// Error is the terminal error text, empty on success.
	Error string
}

// OutcomeSink receives one Outcome per request.
type OutcomeSink interface {
	RecordOutcome(outcome Outcome)
}

// OutcomeFunc adapts a function to the OutcomeSink interface.
type OutcomeFunc func(Outcome)

// RecordOutcome implements OutcomeSink.
func (f OutcomeFunc) RecordOutcome(outcome Outcome) { f(outcome) }

// Orchestrator runs the attempt loop for inbound requests.
type Orchestrator struct {
	pool     *token.Pool
	upstream Upstream
	builder  *grok.PayloadBuilder
	cfg      config.RetryConfig
	sink     OutcomeSink
	logger   *slog.Logger

	// sleep is injectable for tests.
	sleep func(context.Context, time.Duration) error
}

// New creates an orchestrator.
func New(pool *token.Pool, upstream Upstream, builder *grok.PayloadBuilder, cfg config.RetryConfig, sink OutcomeSink) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		upstream: upstream,
		builder:  builder,
		cfg:      cfg,
		sink:     sink,
		logger:   slog.Default().With("component", "orchestrator"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the delay applied after the k-th failed attempt
// (0-indexed). It is non-decreasing in k and capped by the ceiling.
func Backoff(cfg config.RetryConfig, k int) time.Duration {
	base := cfg.BackoffBase
	if base < 0 {
		base = 0
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(base) * math.Pow(factor, float64(k)))
	if cfg.BackoffCeiling > 0 && (delay > cfg.BackoffCeiling || delay < 0) {
		delay = cfg.BackoffCeiling
	}
	return delay
}

// Run executes the attempt loop and hands the first successful response
// to handle. It emits exactly one Outcome on every terminal path.
func (o *Orchestrator) Run(ctx context.Context, req Request, handle HandleFunc) error {
	start := time.Now()
	outcome := Outcome{Model: req.Model.ID}

	emit := func() {
		outcome.Duration = time.Since(start)
		if o.sink != nil {
			o.sink.RecordOutcome(outcome)
		}
	}

	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome.Attempts = attempt + 1

		status, retryable, err := o.attempt(ctx, req, &outcome, handle)
		if err == nil {
			outcome.Status = status
			outcome.Error = ""
			emit()
			return nil
		}
		lastErr = err
		outcome.Status = status
		outcome.Error = err.Error()

		if !retryable {
			break
		}
		if attempt+1 >= maxAttempts {
			o.logger.Warn("retries exhausted", "attempts", attempt+1, "error", err)
			break
		}

		delay := Backoff(o.cfg, attempt)
		if o.cfg.RetryBudget > 0 && time.Since(start)+delay > o.cfg.RetryBudget {
			o.logger.Warn("retry budget exceeded, stopping",
				"elapsed", time.Since(start),
				"next_delay", delay,
			)
			break
		}
		o.logger.Info("retrying upstream call",
			"attempt", attempt+1,
			"delay", delay,
			"status", status,
		)
		if err := o.sleep(ctx, delay); err != nil {
			break
		}
	}

	emit()
	return lastErr
}

// attempt runs one full attempt. It reports the HTTP-equivalent status,
// whether the failure class is retryable, and the error.
func (o *Orchestrator) attempt(ctx context.Context, req Request, outcome *Outcome, handle HandleFunc) (int, bool, error) {
	cred, err := o.pool.Select(ctx, req.Model.Elevated())
	if err != nil {
		if errors.Is(err, token.ErrNoCredential) {
			// Retrying would rerun the same empty-pool check.
			return http.StatusServiceUnavailable, false, err
		}
		return http.StatusInternalServerError, false, fmt.Errorf("credential selection failed: %w", err)
	}
	outcome.CredentialSuffix = cred.Suffix()

	payload, err := o.preparePayload(ctx, cred, req)
	if err != nil {
		return o.classifyFailure(ctx, cred, err)
	}

	resp, err := o.upstream.OpenConversation(ctx, cred, payload)
	if err != nil {
		return o.classifyFailure(ctx, cred, err)
	}

	status, err := handle(ctx, &Result{
		Response:   resp,
		Credential: cred,
		Attempts:   outcome.Attempts,
	})
	if err != nil {
		// The body already streamed; a retry would double-answer.
		return status, false, err
	}
	return status, false, nil
}

// preparePayload uploads attachments and builds the payload variant the
// request calls for: video, image edit, or plain chat.
func (o *Orchestrator) preparePayload(ctx context.Context, cred token.Credential, req Request) (*grok.ConversationPayload, error) {
	fileIDs, err := o.upstream.UploadAll(ctx, cred, req.Attachments)
	if err != nil {
		return nil, err
	}

	build := grok.BuildRequest{
		Message:         req.Message,
		UpstreamModel:   req.Model.UpstreamModel,
		ModelMode:       req.Model.Mode,
		FileIDs:         fileIDs,
		GenerationCount: req.GenerationCount,
		AspectRatio:     req.AspectRatio,
	}

	switch {
	case req.Model.IsVideo:
		// Video needs a provider post resource as context: anchored to
		// the first uploaded image, or a bare video-intent post.
		assetID := ""
		if len(fileIDs) > 0 {
			assetID = fileIDs[0]
		}
		postID, err := o.upstream.CreatePost(ctx, cred, assetID, "video")
		if err != nil {
			return nil, fmt.Errorf("failed to create video post: %w", err)
		}
		build.PostID = postID
		return o.builder.Video(build), nil

	case len(fileIDs) > 0 && !req.Model.IsVideo:
		// Edit context is best-effort: without a post the edit still
		// works, just without provider-side parent context.
		postID, err := o.upstream.CreatePost(ctx, cred, fileIDs[0], "image_edit")
		if err != nil {
			o.logger.Warn("edit context post failed, continuing without",
				"credential", cred.Suffix(),
				"error", err,
			)
		} else {
			build.PostID = postID
		}
		return o.builder.ImageEdit(build), nil

	default:
		return o.builder.Chat(build), nil
	}
}

// classifyFailure records the failure against the credential and maps
// it to (status, retryable, err).
func (o *Orchestrator) classifyFailure(ctx context.Context, cred token.Credential, err error) (int, bool, error) {
	var ue *grok.UpstreamError
	if errors.As(err, &ue) {
		o.pool.RecordFailure(ctx, cred, ue.StatusCode, ue.Body)
		o.pool.ApplyCooldown(ctx, cred, ue.StatusCode)
		return ue.StatusCode, o.statusRetryable(ue.StatusCode), err
	}

	if IsNetworkError(err) {
		o.pool.RecordFailure(ctx, cred, 0, err.Error())
		o.pool.ApplyCooldown(ctx, cred, 0)
		return 0, o.cfg.NetworkRetryEnabled(), err
	}

	return http.StatusInternalServerError, false, err
}

func (o *Orchestrator) statusRetryable(status int) bool {
	for _, code := range o.cfg.RetryableStatusCodes {
		if code == status {
			return true
		}
	}
	return false
}
