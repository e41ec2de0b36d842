package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// CollectImageURLs reads the full NDJSON body and returns the generated
// image URLs from the final model response. It is the non-websocket
// path for image generation: the provider answers a chat-style
// conversation whose final message carries asset URLs.
func CollectImageURLs(body io.Reader) ([]string, error) {
	var urls []string

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event streamLine
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed stream line: %v", err)}
		}
		if event.Error != nil && event.Error.Message != "" {
			return nil, &ProtocolError{Message: event.Error.Message}
		}

		resp := event.response()
		if resp == nil || resp.ModelResponse == nil {
			continue
		}
		urls = append(urls, resp.ModelResponse.GeneratedImageURLs...)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("failed to read stream: %v", err)}
	}

	return urls, nil
}
