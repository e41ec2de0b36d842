package grok

import "fmt"

// ConversationPayload is the provider's conversation request schema.
// Field names follow the provider's web client.
type ConversationPayload struct {
	Temporary             bool           `json:"temporary"`
	ModelName             string         `json:"modelName"`
	ModelMode             string         `json:"modelMode,omitempty"`
	Message               string         `json:"message"`
	FileAttachments       []string       `json:"fileAttachments"`
	ImageAttachments      []string       `json:"imageAttachments"`
	DisableSearch         bool           `json:"disableSearch"`
	EnableImageGeneration bool           `json:"enableImageGeneration"`
	ReturnImageBytes      bool           `json:"returnImageBytes"`
	EnableImageStreaming  bool           `json:"enableImageStreaming"`
	ImageGenerationCount  int            `json:"imageGenerationCount"`
	ToolOverrides         map[string]any `json:"toolOverrides"`
	SendFinalMetadata     bool           `json:"sendFinalMetadata"`
	VideoGen              *VideoGen      `json:"videoGen,omitempty"`

	// Referer overrides the request referer; set for post-anchored
	// calls (video, image edit). Not serialized.
	Referer string `json:"-"`
}

// VideoGen carries video generation parameters.
type VideoGen struct {
	PostID      string `json:"postId,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// BuildRequest is the normalized input to the payload builder.
type BuildRequest struct {
	// Message is the flattened prompt text.
	Message string

	// UpstreamModel and ModelMode come from the catalog entry.
	UpstreamModel string
	ModelMode     string

	// FileIDs are provider asset IDs produced by the upload pipeline.
	FileIDs []string

	// GenerationCount is how many images to produce, when applicable.
	GenerationCount int

	// PostID anchors the conversation to a provider post resource.
	PostID string

	// AspectRatio applies to video generation.
	AspectRatio string
}

// PayloadBuilder maps normalized requests into provider payload
// variants. It is stateless apart from configuration.
type PayloadBuilder struct {
	baseURL     string
	editModelID string
}

// NewPayloadBuilder creates a builder. editModelID is the provider
// model used for image edits.
func NewPayloadBuilder(baseURL, editModelID string) *PayloadBuilder {
	return &PayloadBuilder{baseURL: baseURL, editModelID: editModelID}
}

// Chat builds a plain conversation payload.
func (b *PayloadBuilder) Chat(req BuildRequest) *ConversationPayload {
	count := req.GenerationCount
	if count <= 0 {
		count = 1
	}
	return &ConversationPayload{
		Temporary:             true,
		ModelName:             req.UpstreamModel,
		ModelMode:             req.ModelMode,
		Message:               req.Message,
		FileAttachments:       orEmpty(req.FileIDs),
		ImageAttachments:      []string{},
		EnableImageGeneration: true,
		EnableImageStreaming:  true,
		ImageGenerationCount:  count,
		ToolOverrides:         map[string]any{},
		SendFinalMetadata:     true,
	}
}

// ImageEdit builds an edit payload: the uploaded images become the edit
// subjects and the edit model replaces the requested one. A post id, if
// present, anchors the edit to provider-side context.
func (b *PayloadBuilder) ImageEdit(req BuildRequest) *ConversationPayload {
	p := b.Chat(req)
	p.ModelName = b.editModelID
	p.ModelMode = ""
	p.ImageAttachments = orEmpty(req.FileIDs)
	p.FileAttachments = []string{}
	if req.PostID != "" {
		p.Referer = fmt.Sprintf("%s/imagine/post/%s", b.baseURL, req.PostID)
	}
	return p
}

// Video builds a video generation payload anchored to a post resource.
func (b *PayloadBuilder) Video(req BuildRequest) *ConversationPayload {
	p := b.Chat(req)
	p.VideoGen = &VideoGen{
		PostID:      req.PostID,
		AspectRatio: req.AspectRatio,
	}
	if req.PostID != "" {
		p.Referer = fmt.Sprintf("%s/imagine/post/%s", b.baseURL, req.PostID)
	}
	return p
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
