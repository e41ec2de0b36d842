package imagews

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Stage is the refinement stage of one received frame.
type Stage string

const (
	// StagePreview is a low-resolution progressive frame.
	StagePreview Stage = "preview"

	// StageMedium is an intermediate frame above the medium size floor.
	StageMedium Stage = "medium"

	// StageFinal is a finished image.
	StageFinal Stage = "final"
)

// finalExtension marks finished assets in the provider's URLs.
const finalExtension = ".jpg"

// Frame is one image message received over the websocket. Frames are
// ephemeral; they live for one generation session.
type Frame struct {
	// ImageID groups frames belonging to the same image.
	ImageID string

	// Stage is the classified refinement stage.
	Stage Stage

	// Payload is the base64 image data as received.
	Payload string

	// PayloadSize is the decoded payload size in bytes.
	PayloadSize int

	// AssetURL is the provider-hosted asset URL.
	AssetURL string

	// IsFinal marks a finished image.
	IsFinal bool
}

// SessionError is a terminal websocket failure surfaced as the last
// element of a session's sequence.
type SessionError struct {
	// Code is the provider error code or an adapter code such as
	// "blocked_no_final_image".
	Code string

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

var assetUUIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// classify builds a Frame from a raw image event. The image ID comes
// from the asset URL's UUID segment, with a generated fallback so
// frames without one still aggregate individually.
func classify(assetURL, payload string, payloadSize, finalMinBytes, mediumMinBytes int) Frame {
	id := assetUUIDPattern.FindString(assetURL)
	if id == "" {
		id = uuid.NewString()
	}

	f := Frame{
		ImageID:     id,
		Payload:     payload,
		PayloadSize: payloadSize,
		AssetURL:    assetURL,
	}

	switch {
	case strings.HasSuffix(strings.ToLower(assetURL), finalExtension) && payloadSize > finalMinBytes:
		f.Stage = StageFinal
		f.IsFinal = true
	case payloadSize > mediumMinBytes:
		f.Stage = StageMedium
	default:
		f.Stage = StagePreview
	}
	return f
}

// better reports whether a beats b for the same image ID: finality
// first, then payload size.
func better(a, b Frame) bool {
	if a.IsFinal != b.IsFinal {
		return a.IsFinal
	}
	return a.PayloadSize > b.PayloadSize
}
