package grok

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tanranv5/grok2api/pkg/token"
)

// assetsBaseURL hosts generated media. Conversation responses reference
// assets by a path relative to this host.
const assetsBaseURL = "https://assets.grok.com"

// AssetURL resolves a possibly-relative asset reference to an absolute
// URL.
func AssetURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return assetsBaseURL + "/" + strings.TrimPrefix(ref, "/")
}

// DownloadAsset fetches a generated asset using the credential's
// session cookie and returns its raw bytes.
func (c *Client) DownloadAsset(ctx context.Context, cred token.Credential, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, AssetURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Cookie", fmt.Sprintf("sso=%s; sso-rw=%s", cred.ID, cred.ID))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp)
	}
	return io.ReadAll(resp.Body)
}
