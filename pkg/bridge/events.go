package bridge

import "fmt"

// streamLine is one NDJSON line from the provider's conversation
// endpoint. Lines either carry a response event or a terminal error.
type streamLine struct {
	Error  *lineError  `json:"error"`
	Result *lineResult `json:"result"`
}

type lineError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type lineResult struct {
	Response *responseEvent `json:"response"`
}

// responseEvent is the provider's incremental response payload.
type responseEvent struct {
	// Token is one increment of generated text.
	Token string `json:"token"`

	// IsThinking marks internal reasoning tokens, which are dropped.
	IsThinking bool `json:"isThinking"`

	// ModelResponse is the final assembled message, present once at the
	// end of a generation.
	ModelResponse *modelResponse `json:"modelResponse"`

	// StreamingImageGenerationResponse carries progressive image
	// previews on image-capable models.
	StreamingImageGenerationResponse *imageProgress `json:"streamingImageGenerationResponse"`
}

type modelResponse struct {
	Message            string   `json:"message"`
	GeneratedImageURLs []string `json:"generatedImageUrls"`
}

type imageProgress struct {
	ImageURL string `json:"imageUrl"`
	Progress int    `json:"progress"`
}

// ProtocolError is a terminal bridge failure: an embedded upstream
// error object or an unparseable stream. It is never retried at the
// bridge level; the attempt already consumed a credential.
type ProtocolError struct {
	// Message is the upstream error text or a parse description.
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream protocol error: %s", e.Message)
}
