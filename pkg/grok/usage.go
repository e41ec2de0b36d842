package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tanranv5/grok2api/pkg/token"
)

// rateLimitRequest is the provider's quota probe payload.
type rateLimitRequest struct {
	RequestKind string `json:"requestKind"`
	ModelName   string `json:"modelName"`
}

// rateLimitResponse is the provider's quota probe reply.
type rateLimitResponse struct {
	RemainingQueries int `json:"remainingQueries"`
	TotalQueries     int `json:"totalQueries"`
	WindowSizeSecs   int `json:"windowSizeSeconds"`
}

// probeKinds maps each probe to the request kind and model the
// provider's web client uses.
const (
	probeKindDefault = "DEFAULT"
	probeKindExpert  = "REASONING"
)

// CheckUsage probes the provider for a credential's remaining quota,
// implementing the pool's UsageChecker. Elevated credentials are probed
// twice, once per quota class. A probe that fails means the session is
// dead; the pool soft-retires it.
func (c *Client) CheckUsage(ctx context.Context, cred token.Credential) (token.Quotas, error) {
	standard, err := c.probe(ctx, cred, probeKindDefault)
	if err != nil {
		return token.Quotas{}, err
	}

	quotas := token.Quotas{
		Remaining:         standard.RemainingQueries,
		RemainingElevated: token.QuotaUnknown,
	}

	if cred.Kind == token.KindElevated {
		expert, err := c.probe(ctx, cred, probeKindExpert)
		if err != nil {
			return token.Quotas{}, err
		}
		quotas.RemainingElevated = expert.RemainingQueries
	}
	return quotas, nil
}

func (c *Client) probe(ctx context.Context, cred token.Credential, kind string) (*rateLimitResponse, error) {
	body, err := json.Marshal(rateLimitRequest{
		RequestKind: kind,
		ModelName:   c.cfg.ProbeModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rate limit probe: %w", err)
	}

	req, err := c.newRequest(ctx, cred, http.MethodPost, "/rest/rate-limits", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate limit probe failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}
	defer resp.Body.Close()

	var decoded rateLimitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode rate limit response: %w", err)
	}
	return &decoded, nil
}
