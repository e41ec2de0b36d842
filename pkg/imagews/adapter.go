package imagews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tanranv5/grok2api/pkg/config"
)

// pollTimeout is the per-read deadline; every expiry is one heuristic
// evaluation tick.
const pollTimeout = 5 * time.Second

// The blocked cap and idle window are deliberately fixed rather than
// derived from the configured timeouts.
var (
	blockedCap        = 10 * time.Second
	idleAfterProgress = 10 * time.Second
)

// Conn is the subset of a websocket connection the adapter needs.
// Tests inject fakes; production uses a gorilla-backed connection.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a websocket session authenticated by a session cookie.
type Dialer func(ctx context.Context, endpoint, cookie string) (Conn, error)

// Params describes one generation session.
type Params struct {
	// Prompt describes the images to generate.
	Prompt string

	// AspectRatio is the provider aspect ratio ("1:1", "16:9", "9:16").
	AspectRatio string

	// N is how many distinct final images the session should produce.
	N int

	// NSFWAllowed forces the provider's NSFW flag on for this session.
	// The adapter's configured AllowNSFW applies either way.
	NSFWAllowed bool
}

// Event is one element of a session's sequence: a frame or a terminal
// error. At most one Event carries Err, and it is always the last.
type Event struct {
	Frame *Frame
	Err   *SessionError
}

// Adapter runs image generation sessions against the provider's
// realtime websocket.
type Adapter struct {
	cfg    config.ImageWSConfig
	dial   Dialer
	logger *slog.Logger
}

// NewAdapter creates an adapter using the gorilla websocket dialer.
func NewAdapter(cfg config.ImageWSConfig) *Adapter {
	return NewAdapterWithDialer(cfg, gorillaDial)
}

// NewAdapterWithDialer creates an adapter with a custom dialer.
func NewAdapterWithDialer(cfg config.ImageWSConfig, dial Dialer) *Adapter {
	return &Adapter{
		cfg:    cfg,
		dial:   dial,
		logger: slog.Default().With("component", "imagews.adapter"),
	}
}

// createMessage is the single outbound message of a session.
type createMessage struct {
	Type string     `json:"type"`
	Item createItem `json:"item"`
}

type createItem struct {
	Type        string `json:"type"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	ImageCount  int    `json:"image_count"`
	AllowNSFW   bool   `json:"allow_nsfw"`
}

// serverEvent is one inbound websocket message.
type serverEvent struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Blob    string `json:"blob"`
	ErrCode any    `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Stream runs one generation session and sends its frames on the
// returned channel. The channel closes when the session ends; the
// websocket is closed and drained before that, so nothing fires after
// the last element. Cancelling ctx stops the session promptly.
func (a *Adapter) Stream(ctx context.Context, cookie string, p Params) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		a.run(ctx, cookie, p, out)
	}()
	return out
}

// emit delivers one event unless the consumer is gone.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) run(ctx context.Context, cookie string, p Params, out chan<- Event) {
	conn, err := a.dial(ctx, a.cfg.Endpoint, cookie)
	if err != nil {
		a.logger.Warn("websocket connect failed", "error", err)
		emit(ctx, out, Event{Err: &SessionError{Code: "connect_failed", Message: err.Error()}})
		return
	}
	defer a.drainAndClose(conn)

	create := createMessage{
		Type: "conversation.item.create",
		Item: createItem{
			Type:        "message",
			Prompt:      p.Prompt,
			AspectRatio: p.AspectRatio,
			ImageCount:  p.N,
			AllowNSFW:   p.NSFWAllowed || a.cfg.AllowNSFW,
		},
	}
	if err := conn.WriteJSON(create); err != nil {
		emit(ctx, out, Event{Err: &SessionError{Code: "ws_send_failed", Message: err.Error()}})
		return
	}

	blockedAfter := a.cfg.BlockedThreshold
	if blockedAfter <= 0 || blockedAfter > blockedCap {
		blockedAfter = blockedCap
	}

	var (
		start      = time.Now()
		lastMsg    = start
		mediumSeen time.Time
		finals     = map[string]bool{}
	)

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > a.cfg.HardTimeout {
			a.logger.Debug("session hard timeout", "finals", len(finals))
			return
		}
		// Termination heuristics run every iteration, not just on quiet
		// polls. A stream of previews that never produces a final must
		// still surface the blocked error.
		if len(finals) > 0 {
			if time.Since(lastMsg) > idleAfterProgress {
				a.logger.Debug("session drained", "finals", len(finals))
				return
			}
		} else if !mediumSeen.IsZero() && time.Since(mediumSeen) > blockedAfter {
			emit(ctx, out, Event{Err: &SessionError{Code: "blocked_no_final_image", Message: "no final image after medium stage"}})
			return
		}

		conn.SetReadDeadline(time.Now().Add(pollTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			emit(ctx, out, Event{Err: &SessionError{Code: "ws_read_failed", Message: err.Error()}})
			return
		}
		lastMsg = time.Now()

		var ev serverEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			a.logger.Warn("unparseable websocket message", "error", err)
			continue
		}

		switch ev.Type {
		case "image":
			frame := classify(ev.URL, ev.Blob, base64Size(ev.Blob), a.cfg.FinalMinBytes, a.cfg.MediumMinBytes)
			if frame.Stage == StageMedium && mediumSeen.IsZero() {
				mediumSeen = time.Now()
			}
			if frame.IsFinal {
				finals[frame.ImageID] = true
			}
			if !emit(ctx, out, Event{Frame: &frame}) {
				return
			}
			if len(finals) >= p.N {
				a.logger.Debug("session complete", "finals", len(finals))
				return
			}
		case "error":
			emit(ctx, out, Event{Err: &SessionError{Code: fmt.Sprint(ev.ErrCode), Message: ev.ErrMsg}})
			return
		}
	}
}

// drainAndClose discards buffered inbound messages, then closes the
// socket, so no handler fires after the sequence has ended.
func (a *Adapter) drainAndClose(conn Conn) {
	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	conn.Close()
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// base64Size computes the decoded byte count of a base64 string.
func base64Size(blob string) int {
	n := len(blob)
	if n == 0 {
		return 0
	}
	padding := 0
	for i := n - 1; i >= 0 && blob[i] == '='; i-- {
		padding++
	}
	return n*3/4 - padding
}
