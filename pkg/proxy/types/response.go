package types

// ChatCompletionResponse represents an OpenAI-compatible chat
// completion response, returned for non-streaming requests.
type ChatCompletionResponse struct {
	// ID is a unique identifier for the chat completion.
	ID string `json:"id"`

	// Object is always "chat.completion".
	Object string `json:"object"`

	// Created is the Unix timestamp of when the completion was created.
	Created int64 `json:"created"`

	// Model is the public model ID used for the completion.
	Model string `json:"model"`

	// Choices is a list of completion choices (always one here).
	Choices []Choice `json:"choices"`

	// Usage contains token usage statistics.
	Usage Usage `json:"usage"`
}

// Choice represents a single completion choice.
type Choice struct {
	// Index is the index of this choice.
	Index int `json:"index"`

	// Message is the generated message.
	Message Message `json:"message"`

	// FinishReason explains why generation stopped ("stop", "length").
	FinishReason string `json:"finish_reason"`
}

// Usage contains token usage statistics. The provider does not report
// token counts, so these are estimates from byte lengths.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionStreamChunk represents one SSE chunk when stream=true.
type ChatCompletionStreamChunk struct {
	// ID is a unique identifier for the chat completion.
	ID string `json:"id"`

	// Object is always "chat.completion.chunk".
	Object string `json:"object"`

	// Created is the Unix timestamp of when the chunk was created.
	Created int64 `json:"created"`

	// Model is the public model ID.
	Model string `json:"model"`

	// Choices is a list of streaming choices.
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice represents a single choice in a streaming response.
type StreamChoice struct {
	// Index is the index of this choice.
	Index int `json:"index"`

	// Delta contains incremental content.
	Delta Delta `json:"delta"`

	// FinishReason is present only in the final chunk.
	FinishReason *string `json:"finish_reason"`
}

// Delta contains incremental content in a streaming response.
type Delta struct {
	// Role is the author role, sent only in the first chunk.
	Role string `json:"role,omitempty"`

	// Content is the incremental text content.
	Content string `json:"content,omitempty"`
}

// ImageResponse represents a POST /v1/images/* response.
type ImageResponse struct {
	// Created is the Unix timestamp of when the images were generated.
	Created int64 `json:"created"`

	// Data holds one entry per requested image.
	Data []ImageDatum `json:"data"`
}

// ImageDatum is one generated image. Exactly one of URL and B64JSON is
// set, per the request's response_format.
type ImageDatum struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ModelList represents a GET /v1/models response.
type ModelList struct {
	// Object is always "list".
	Object string `json:"object"`

	// Data holds the available models.
	Data []ModelInfo `json:"data"`
}

// ModelInfo is one entry in the model listing.
type ModelInfo struct {
	// ID is the public model ID.
	ID string `json:"id"`

	// Object is always "model".
	Object string `json:"object"`

	// Created is a fixed catalog timestamp.
	Created int64 `json:"created"`

	// OwnedBy is the provider name.
	OwnedBy string `json:"owned_by"`
}
