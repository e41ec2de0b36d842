package proxy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/tanranv5/grok2api/pkg/grok"
	"github.com/tanranv5/grok2api/pkg/proxy/types"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (10MB).
	MaxRequestBodySize = 10 * 1024 * 1024

	// MaxImageCount is the highest number of images one request may ask for.
	MaxImageCount = 10
)

// ImageEditRequest is the parsed form of a multipart image edit call.
type ImageEditRequest struct {
	// Prompt describes the edit to apply.
	Prompt string

	// Model is the requested public model ID.
	Model string

	// N is the number of edited variants to produce.
	N int

	// ResponseFormat is "url" or "b64_json".
	ResponseFormat string

	// Images are the source images to edit.
	Images []grok.Attachment
}

// ParseChatCompletionRequest parses and validates a chat completion
// request body. The body is capped at MaxRequestBodySize.
func ParseChatCompletionRequest(r *http.Request) (*types.ChatCompletionRequest, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("invalid JSON in request body: %v", err),
			"", types.CodeInvalidJSON,
		)
	}

	if req.Model == "" {
		return nil, NewValidationError("missing required field: model", "model", types.CodeMissingField)
	}
	if len(req.Messages) == 0 {
		return nil, NewValidationError("missing required field: messages", "messages", types.CodeMissingField)
	}

	return &req, nil
}

// ParseImageGenerationRequest parses and validates an image generation
// request body. N defaults to 1 and response_format to "url".
func ParseImageGenerationRequest(r *http.Request) (*types.ImageGenerationRequest, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	var req types.ImageGenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("invalid JSON in request body: %v", err),
			"", types.CodeInvalidJSON,
		)
	}

	if req.Prompt == "" {
		return nil, NewValidationError("missing required field: prompt", "prompt", types.CodeMissingField)
	}
	if req.N == 0 {
		req.N = 1
	}
	if req.N < 0 || req.N > MaxImageCount {
		return nil, NewValidationError(
			fmt.Sprintf("n must be between 1 and %d", MaxImageCount),
			"n", "",
		)
	}
	switch req.ResponseFormat {
	case "":
		req.ResponseFormat = "url"
	case "url", "b64_json":
	default:
		return nil, NewValidationError(
			"response_format must be \"url\" or \"b64_json\"",
			"response_format", "",
		)
	}

	return &req, nil
}

// ParseImageEditRequest parses a multipart/form-data image edit
// request. Source images arrive under the "image" or "image[]" field.
func ParseImageEditRequest(r *http.Request) (*ImageEditRequest, error) {
	if err := r.ParseMultipartForm(MaxRequestBodySize); err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("invalid multipart form: %v", err),
			"", "",
		)
	}

	req := &ImageEditRequest{
		Prompt:         r.FormValue("prompt"),
		Model:          r.FormValue("model"),
		N:              1,
		ResponseFormat: r.FormValue("response_format"),
	}
	if req.Prompt == "" {
		return nil, NewValidationError("missing required field: prompt", "prompt", types.CodeMissingField)
	}
	if n := r.FormValue("n"); n != "" {
		parsed, err := parsePositiveInt(n, MaxImageCount)
		if err != nil {
			return nil, NewValidationError(err.Error(), "n", "")
		}
		req.N = parsed
	}
	switch req.ResponseFormat {
	case "":
		req.ResponseFormat = "url"
	case "url", "b64_json":
	default:
		return nil, NewValidationError(
			"response_format must be \"url\" or \"b64_json\"",
			"response_format", "",
		)
	}

	files := r.MultipartForm.File["image"]
	files = append(files, r.MultipartForm.File["image[]"]...)
	if len(files) == 0 {
		return nil, NewValidationError("missing required field: image", "image", types.CodeMissingField)
	}

	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, NewValidationError(
				fmt.Sprintf("failed to open uploaded file %q: %v", fh.Filename, err),
				"image", "",
			)
		}
		content, err := io.ReadAll(io.LimitReader(f, MaxRequestBodySize))
		f.Close()
		if err != nil {
			return nil, NewValidationError(
				fmt.Sprintf("failed to read uploaded file %q: %v", fh.Filename, err),
				"image", "",
			)
		}

		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = mime.TypeByExtension(path.Ext(fh.Filename))
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		req.Images = append(req.Images, grok.Attachment{
			FileName: fh.Filename,
			MimeType: mimeType,
			Content:  content,
		})
	}

	return req, nil
}

// DecodeDataURL converts a base64 data URL from a chat image part into
// an attachment. Plain base64 without the data: prefix is accepted and
// treated as PNG.
func DecodeDataURL(dataURL string) (grok.Attachment, error) {
	mimeType := "image/png"
	encoded := dataURL

	if strings.HasPrefix(dataURL, "data:") {
		meta, rest, ok := strings.Cut(dataURL[len("data:"):], ",")
		if !ok {
			return grok.Attachment{}, NewValidationError("malformed data URL in image_url", "messages", "")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return grok.Attachment{}, NewValidationError("image_url data must be base64-encoded", "messages", "")
		}
		if mt := strings.TrimSuffix(meta, ";base64"); mt != "" {
			mimeType = mt
		}
		encoded = rest
	}

	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return grok.Attachment{}, NewValidationError(
			fmt.Sprintf("invalid base64 image data: %v", err),
			"messages", "",
		)
	}

	return grok.Attachment{
		FileName: uuid.NewString() + extensionFor(mimeType),
		MimeType: mimeType,
		Content:  content,
	}, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func parsePositiveInt(s string, max int) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("n must be an integer")
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("n must be between 1 and %d", max)
	}
	return n, nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("failed to read request body: %v", err),
			"", "",
		)
	}
	if len(body) > MaxRequestBodySize {
		return nil, NewValidationError(
			fmt.Sprintf("request body exceeds the %d byte limit", MaxRequestBodySize),
			"", "",
		)
	}
	return body, nil
}
