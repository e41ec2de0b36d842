package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tanranv5/grok2api/pkg/proxy/types"
)

// StreamOptions configures one SSE translation.
type StreamOptions struct {
	// Model is the public model ID echoed in every chunk.
	Model string

	// FilteredTags lists tag blocks dropped from the stream.
	FilteredTags []string

	// OnComplete fires exactly once at stream end (normal or error)
	// with the HTTP-equivalent status and total duration. Headers are
	// already flushed by then, so this callback is the only outcome
	// hook for streaming requests.
	OnComplete func(status int, duration time.Duration, err error)
}

// ToSSE consumes the provider's NDJSON body and writes an OpenAI
// chat-completion SSE stream to w. The returned error mirrors what
// OnComplete already reported; callers that only log via the callback
// may ignore it.
func ToSSE(body io.Reader, w io.Writer, opts StreamOptions) error {
	start := time.Now()

	var once sync.Once
	complete := func(status int, err error) {
		once.Do(func() {
			if opts.OnComplete != nil {
				opts.OnComplete(status, time.Since(start), err)
			}
		})
	}

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var (
		id       = "chatcmpl-" + uuid.NewString()
		created  = time.Now().Unix()
		filter   = NewTagFilter(opts.FilteredTags)
		sentText bool
	)

	writeChunk := func(delta types.Delta, finish *string) error {
		chunk := types.ChatCompletionStreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   opts.Model,
			Choices: []types.StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
		raw, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return err
		}
		flush()
		return nil
	}

	// abort records a write failure. The stream is unfinishable at that
	// point, so the outcome must not read as a success.
	abort := func(err error) error {
		complete(http.StatusInternalServerError, err)
		return err
	}

	fail := func(perr *ProtocolError) error {
		envelope, _ := json.Marshal(types.NewError(types.ErrorTypeBadGateway, perr.Message, types.CodeUpstreamProtocol))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", envelope)
		flush()
		complete(http.StatusBadGateway, perr)
		return perr
	}

	if err := writeChunk(types.Delta{Role: "assistant"}, nil); err != nil {
		return abort(err)
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event streamLine
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return fail(&ProtocolError{Message: fmt.Sprintf("malformed stream line: %v", err)})
		}
		if event.Error != nil && event.Error.Message != "" {
			return fail(&ProtocolError{Message: event.Error.Message})
		}

		resp := event.response()
		if resp == nil || resp.IsThinking {
			continue
		}

		if resp.Token != "" {
			if text := filter.Feed(resp.Token); text != "" {
				if err := writeChunk(types.Delta{Content: text}, nil); err != nil {
					return abort(err)
				}
				sentText = true
			}
		}

		if resp.ModelResponse != nil {
			for _, url := range resp.ModelResponse.GeneratedImageURLs {
				delta := types.Delta{Content: fmt.Sprintf("![image](%s)\n", url)}
				if err := writeChunk(delta, nil); err != nil {
					return abort(err)
				}
			}
			// When no tokens streamed, the message arrives whole here.
			// Image URLs alone do not suppress it.
			if !sentText && resp.ModelResponse.Message != "" {
				if err := writeChunk(types.Delta{Content: resp.ModelResponse.Message}, nil); err != nil {
					return abort(err)
				}
				sentText = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(&ProtocolError{Message: fmt.Sprintf("failed to read stream: %v", err)})
	}

	if held := filter.Flush(); held != "" {
		if err := writeChunk(types.Delta{Content: held}, nil); err != nil {
			return abort(err)
		}
	}

	finish := "stop"
	if err := writeChunk(types.Delta{}, &finish); err != nil {
		return abort(err)
	}
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return abort(err)
	}
	flush()

	complete(http.StatusOK, nil)
	return nil
}
