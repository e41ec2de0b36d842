package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tanranv5/grok2api/pkg/config"
	"github.com/tanranv5/grok2api/pkg/token"
)

// Client calls the provider's private web API. One Client is shared by
// all request handlers; per-request state (the credential) is passed
// into every call.
type Client struct {
	cfg    config.GrokConfig
	http   *http.Client
	stream *http.Client
	logger *slog.Logger
}

// NewClient creates a provider client. The streaming client carries no
// timeout; long NDJSON bodies are bounded by the caller instead.
func NewClient(cfg config.GrokConfig) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		stream: &http.Client{},
		logger: slog.Default().With("component", "grok.client"),
	}
}

// BaseURL returns the configured provider origin.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

// newRequest builds a request with the session cookie and the headers
// the provider's web client sends.
func (c *Client) newRequest(ctx context.Context, cred token.Credential, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", c.BaseURL())
	req.Header.Set("Referer", c.BaseURL()+"/")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Cookie", "sso="+cred.ID+"; sso-rw="+cred.ID)
	return req, nil
}

// upstreamError drains at most maxErrorBodyBytes from a failed reply
// and closes the body.
func upstreamError(resp *http.Response) *UpstreamError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(raw)),
	}
}

// OpenConversation posts a conversation payload and returns the raw
// response. On 2xx the caller owns the NDJSON body and must close it;
// any other status is drained into an *UpstreamError.
func (c *Client) OpenConversation(ctx context.Context, cred token.Credential, payload *ConversationPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation payload: %w", err)
	}

	req, err := c.newRequest(ctx, cred, http.MethodPost, "/rest/app-chat/conversations/new", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if payload.Referer != "" {
		req.Header.Set("Referer", payload.Referer)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}

	c.logger.Debug("conversation opened",
		"credential", cred.Suffix(),
		"model", payload.ModelName,
		"status", resp.StatusCode,
	)
	return resp, nil
}

// CreatePost creates a provider-side post resource used as context for
// image edits and video generation. assetID may be empty for a bare
// video-intent post.
func (c *Client) CreatePost(ctx context.Context, cred token.Credential, assetID string, intent string) (string, error) {
	payload := map[string]any{
		"intent": intent,
	}
	if assetID != "" {
		payload["mediaReferences"] = []string{assetID}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode post payload: %w", err)
	}

	req, err := c.newRequest(ctx, cred, http.MethodPost, "/rest/media/post/create", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post creation failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstreamError(resp)
	}
	defer resp.Body.Close()

	var decoded struct {
		Post struct {
			PostID string `json:"postId"`
		} `json:"post"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode post response: %w", err)
	}
	if decoded.Post.PostID == "" {
		return "", fmt.Errorf("post response carried no post id")
	}
	return decoded.Post.PostID, nil
}
