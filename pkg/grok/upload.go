package grok

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tanranv5/grok2api/pkg/token"
)

// Attachment is one inbound file to host on the provider.
type Attachment struct {
	// FileName is the name reported to the provider.
	FileName string

	// MimeType is the content type.
	MimeType string

	// Content is the raw bytes.
	Content []byte
}

// UploadFile hosts one attachment and returns the provider asset ID.
func (c *Client) UploadFile(ctx context.Context, cred token.Credential, att Attachment) (string, error) {
	payload := map[string]string{
		"fileName":     att.FileName,
		"fileMimeType": att.MimeType,
		"content":      base64.StdEncoding.EncodeToString(att.Content),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode upload payload: %w", err)
	}

	req, err := c.newRequest(ctx, cred, http.MethodPost, "/rest/app-chat/upload-file", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstreamError(resp)
	}
	defer resp.Body.Close()

	var decoded struct {
		FileMetadataID string `json:"fileMetadataId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if decoded.FileMetadataID == "" {
		return "", fmt.Errorf("upload response carried no file id")
	}

	c.logger.Debug("attachment uploaded",
		"credential", cred.Suffix(),
		"file", att.FileName,
		"bytes", len(att.Content),
	)
	return decoded.FileMetadataID, nil
}

// UploadAll hosts every attachment with bounded parallelism, preserving
// input order in the returned IDs. All uploads must succeed; the first
// error cancels the rest and is returned.
func (c *Client) UploadAll(ctx context.Context, cred token.Credential, atts []Attachment) ([]string, error) {
	if len(atts) == 0 {
		return nil, nil
	}

	concurrency := c.cfg.UploadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(atts) {
		concurrency = len(atts)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, concurrency)
		ids      = make([]string, len(atts))
		mu       sync.Mutex
		firstErr error
	)

	for i, att := range atts {
		wg.Add(1)
		go func(i int, att Attachment) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			id, err := c.UploadFile(ctx, cred, att)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to upload %q: %w", att.FileName, err)
				}
				mu.Unlock()
				cancel()
				return
			}
			ids[i] = id
		}(i, att)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
