package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatCompletionRequest represents an OpenAI-compatible chat completion
// request. Sampling parameters are accepted for compatibility but the
// upstream provider ignores them.
type ChatCompletionRequest struct {
	// Model is the public model ID (e.g. "grok-4").
	Model string `json:"model"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Stream enables server-sent events (SSE) streaming.
	// Optional, defaults to false.
	Stream bool `json:"stream,omitempty"`

	// N is the number of generations, used by image-capable models.
	// Optional, defaults to 1.
	N *int `json:"n,omitempty"`

	// Temperature is accepted but not forwarded upstream.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens is accepted but not forwarded upstream.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// User is a caller-supplied end-user identifier. Optional.
	User string `json:"user,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the author of the message ("system", "user", "assistant").
	Role string `json:"role"`

	// Content is the text content of the message. Can be a string or an
	// array of content parts (for multimodal input).
	Content interface{} `json:"content"`
}

// ContentPart is one element of a multimodal message content array.
type ContentPart struct {
	// Type is "text" or "image_url".
	Type string `json:"type"`

	// Text holds the text for type "text".
	Text string `json:"text,omitempty"`

	// ImageURL holds the image reference for type "image_url".
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is an image reference inside a multimodal message.
type ImageURL struct {
	// URL is an http(s) URL or a base64 data URL.
	URL string `json:"url"`
}

// Flatten reduces a message list to a single prompt string plus the
// image data URLs found in multimodal parts. Roles are kept as prefixes
// so upstream sees the whole conversation in one message.
func Flatten(messages []Message) (string, []string, error) {
	var (
		text   strings.Builder
		images []string
	)

	for i, msg := range messages {
		var part string
		switch content := msg.Content.(type) {
		case string:
			part = content
		case []interface{}:
			raw, err := json.Marshal(content)
			if err != nil {
				return "", nil, fmt.Errorf("message %d: %w", i, err)
			}
			var parts []ContentPart
			if err := json.Unmarshal(raw, &parts); err != nil {
				return "", nil, fmt.Errorf("message %d: invalid content parts: %w", i, err)
			}
			var texts []string
			for _, p := range parts {
				switch p.Type {
				case "text":
					texts = append(texts, p.Text)
				case "image_url":
					if p.ImageURL != nil && p.ImageURL.URL != "" {
						images = append(images, p.ImageURL.URL)
					}
				default:
					return "", nil, fmt.Errorf("message %d: unsupported content part type %q", i, p.Type)
				}
			}
			part = strings.Join(texts, "\n")
		case nil:
			part = ""
		default:
			return "", nil, fmt.Errorf("message %d: unsupported content type %T", i, msg.Content)
		}

		if text.Len() > 0 {
			text.WriteString("\n")
		}
		if msg.Role != "" && msg.Role != "user" {
			text.WriteString(msg.Role + ": ")
		}
		text.WriteString(part)
	}

	return text.String(), images, nil
}

// ImageGenerationRequest represents a POST /v1/images/generations body.
type ImageGenerationRequest struct {
	// Prompt describes the image to generate.
	Prompt string `json:"prompt"`

	// Model is the public image model ID. Optional, defaults to the
	// catalog's image model.
	Model string `json:"model,omitempty"`

	// N is how many images to generate. Optional, defaults to 1.
	N int `json:"n,omitempty"`

	// ResponseFormat is "url" or "b64_json". Optional, defaults to "url".
	ResponseFormat string `json:"response_format,omitempty"`

	// Size is the requested dimensions ("1024x1024"). Mapped to an
	// aspect ratio; unrecognized values fall back to square.
	Size string `json:"size,omitempty"`

	// Stream enables partial-image SSE events.
	// Optional, defaults to false.
	Stream bool `json:"stream,omitempty"`
}

// AspectRatio maps the requested size to the provider's aspect ratios.
func (r *ImageGenerationRequest) AspectRatio() string {
	w, h := 0, 0
	if _, err := fmt.Sscanf(r.Size, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return "1:1"
	}
	switch {
	case w > h:
		return "16:9"
	case h > w:
		return "9:16"
	default:
		return "1:1"
	}
}
