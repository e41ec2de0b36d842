package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tanranv5/grok2api/pkg/proxy/types"
)

// maxLineBytes bounds one NDJSON line. Image-bearing lines can carry
// large base64 blobs.
const maxLineBytes = 16 << 20

// ToJSON reads the full NDJSON body and assembles a single OpenAI
// completion object. Any embedded error object aborts assembly and
// surfaces as a *ProtocolError, even when later lines are valid.
func ToJSON(body io.Reader, model string, filteredTags []string) (*types.ChatCompletionResponse, error) {
	var (
		tokens    strings.Builder
		final     string
		imageURLs []string
		filter    = NewTagFilter(filteredTags)
	)

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
		if resp == nil {
			continue
		}
		if resp.IsThinking {
			continue
		}
		if resp.Token != "" {
			tokens.WriteString(filter.Feed(resp.Token))
		}
		if resp.ModelResponse != nil {
			if resp.ModelResponse.Message != "" {
				final = resp.ModelResponse.Message
			}
			imageURLs = append(imageURLs, resp.ModelResponse.GeneratedImageURLs...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("failed to read stream: %v", err)}
	}

	content := final
	if content == "" {
		content = tokens.String() + filter.Flush()
	}
	for _, url := range imageURLs {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("![image](%s)", url)
	}

	completion := &types.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: estimateUsage(content),
	}
	return completion, nil
}

func (l *streamLine) response() *responseEvent {
	if l.Result == nil {
		return nil
	}
	return l.Result.Response
}

// estimateUsage approximates token counts from byte length; the
// provider reports none.
func estimateUsage(content string) types.Usage {
	completion := (len(content) + 3) / 4
	return types.Usage{
		CompletionTokens: completion,
		TotalTokens:      completion,
	}
}
