package imagews

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanranv5/grok2api/pkg/config"
)

func testWSConfig() config.ImageWSConfig {
	return config.ImageWSConfig{
		Enabled:          true,
		Endpoint:         "wss://example.test/ws",
		HardTimeout:      2 * time.Second,
		BlockedThreshold: 30 * time.Millisecond,
		FinalMinBytes:    100,
		MediumMinBytes:   10,
		BatchSize:        4,
	}
}

// timeoutErr satisfies net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// fakeConn replays a scripted message sequence. Exhausted scripts
// return read timeouts, standing in for a quiet socket.
type fakeConn struct {
	mu     sync.Mutex
	script [][]byte
	i      int
	wrote  []any
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrote = append(c.wrote, v)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if c.i >= len(c.script) {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, timeoutErr{}
	}
	msg := c.script[c.i]
	c.i++
	c.mu.Unlock()
	return 1, msg, nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func fakeDialer(conn *fakeConn) Dialer {
	return func(ctx context.Context, endpoint, cookie string) (Conn, error) {
		return conn, nil
	}
}

// blobOfSize returns a padding-free base64 string decoding to at least
// n bytes.
func blobOfSize(n int) string {
	return strings.Repeat("A", (n+2)/3*4)
}

func imageEvent(url string, size int) []byte {
	raw, _ := json.Marshal(serverEvent{Type: "image", URL: url, Blob: blobOfSize(size)})
	return raw
}

func errorEvent(code, msg string) []byte {
	raw, _ := json.Marshal(map[string]any{"type": "error", "err_code": code, "err_msg": msg})
	return raw
}

const (
	uuidA = "11111111-2222-3333-4444-555555555555"
	uuidB = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

func finalURL(id string) string { return fmt.Sprintf("https://assets.example/%s/image.jpg", id) }

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		size      int
		wantStage Stage
		wantFinal bool
		wantID    string
	}{
		{
			name:      "final extension above floor",
			url:       finalURL(uuidA),
			size:      200,
			wantStage: StageFinal,
			wantFinal: true,
			wantID:    uuidA,
		},
		{
			name:      "final extension below floor stays medium",
			url:       finalURL(uuidA),
			size:      50,
			wantStage: StageMedium,
			wantID:    uuidA,
		},
		{
			name:      "wrong extension never final",
			url:       "https://assets.example/" + uuidA + "/prev.webp",
			size:      5000,
			wantStage: StageMedium,
			wantID:    uuidA,
		},
		{
			name:      "below medium floor is preview",
			url:       finalURL(uuidA),
			size:      5,
			wantStage: StagePreview,
			wantID:    uuidA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := classify(tt.url, "", tt.size, 100, 10)
			if f.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", f.Stage, tt.wantStage)
			}
			if f.IsFinal != tt.wantFinal {
				t.Errorf("IsFinal = %v, want %v", f.IsFinal, tt.wantFinal)
			}
			if f.ImageID != tt.wantID {
				t.Errorf("ImageID = %q, want %q", f.ImageID, tt.wantID)
			}
		})
	}
}

func TestClassifyGeneratesFallbackID(t *testing.T) {
	a := classify("https://assets.example/no-uuid.jpg", "", 5, 100, 10)
	b := classify("https://assets.example/no-uuid.jpg", "", 5, 100, 10)
	if a.ImageID == "" || b.ImageID == "" {
		t.Fatal("fallback id missing")
	}
	if a.ImageID == b.ImageID {
		t.Error("fallback ids must be distinct per frame")
	}
}

func TestStreamCompletion(t *testing.T) {
	conn := &fakeConn{script: [][]byte{
		imageEvent(finalURL(uuidA), 200),
		imageEvent(finalURL(uuidB), 300),
		// Never read: the session completes at two finals.
		imageEvent(finalURL(uuidA), 400),
	}}
	a := NewAdapterWithDialer(testWSConfig(), fakeDialer(conn))

	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "cats", N: 2}))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if !ev.Frame.IsFinal {
			t.Errorf("frame %q not final", ev.Frame.ImageID)
		}
	}
	if !conn.closed {
		t.Error("connection not closed after session")
	}
	if len(conn.wrote) != 1 {
		t.Errorf("wrote %d messages, want exactly one create", len(conn.wrote))
	}
}

func TestStreamUpstreamError(t *testing.T) {
	conn := &fakeConn{script: [][]byte{
		errorEvent("content_moderated", "prompt rejected"),
	}}
	a := NewAdapterWithDialer(testWSConfig(), fakeDialer(conn))

	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "x", N: 1}))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Err == nil || events[0].Err.Code != "content_moderated" {
		t.Errorf("event = %+v, want moderation error", events[0])
	}
}

func TestStreamBlockedDetection(t *testing.T) {
	// One medium frame, then silence: the session must yield exactly
	// one blocked error and end.
	conn := &fakeConn{script: [][]byte{
		imageEvent("https://assets.example/"+uuidA+"/prev.webp", 50),
	}}
	a := NewAdapterWithDialer(testWSConfig(), fakeDialer(conn))

	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "x", N: 1}))
	if len(events) != 2 {
		t.Fatalf("got %d events, want medium frame then blocked error", len(events))
	}
	if events[0].Frame == nil || events[0].Frame.Stage != StageMedium {
		t.Errorf("first event = %+v, want medium frame", events[0])
	}
	if events[1].Err == nil || events[1].Err.Code != "blocked_no_final_image" {
		t.Errorf("second event = %+v, want blocked_no_final_image", events[1])
	}
}

// chattyConn yields one medium frame and then an endless run of tiny
// preview frames, never a final. Reads honor the deadline so drain
// terminates.
type chattyConn struct {
	mu       sync.Mutex
	reads    int
	deadline time.Time
}

func (c *chattyConn) WriteJSON(v any) error { return nil }

func (c *chattyConn) ReadMessage() (int, []byte, error) {
	time.Sleep(2 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.deadline.IsZero() && time.Now().After(c.deadline) {
		return 0, nil, timeoutErr{}
	}
	c.reads++
	if c.reads == 1 {
		return 1, imageEvent("https://assets.example/"+uuidA+"/prev.webp", 50), nil
	}
	return 1, imageEvent("https://assets.example/"+uuidA+"/prev.webp", 5), nil
}

func (c *chattyConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *chattyConn) Close() error { return nil }

func TestStreamBlockedDespiteTraffic(t *testing.T) {
	// Previews keep arriving after the medium frame, so reads never
	// time out; the blocked error must still fire at the threshold
	// rather than waiting for the hard timeout.
	conn := &chattyConn{}
	a := NewAdapterWithDialer(testWSConfig(), func(ctx context.Context, endpoint, cookie string) (Conn, error) {
		return conn, nil
	})

	start := time.Now()
	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "x", N: 1}))
	elapsed := time.Since(start)

	if len(events) < 2 {
		t.Fatalf("got %d events, want medium frame plus blocked error", len(events))
	}
	if events[0].Frame == nil || events[0].Frame.Stage != StageMedium {
		t.Errorf("first event = %+v, want medium frame", events[0])
	}
	last := events[len(events)-1]
	if last.Err == nil || last.Err.Code != "blocked_no_final_image" {
		t.Errorf("last event = %+v, want blocked_no_final_image", last)
	}
	if elapsed > time.Second {
		t.Errorf("blocked detection took %v, must not wait out the hard timeout", elapsed)
	}
}

func TestStreamIdleAfterProgress(t *testing.T) {
	old := idleAfterProgress
	idleAfterProgress = 30 * time.Millisecond
	defer func() { idleAfterProgress = old }()

	// One final arrives, the second never does; the session drains
	// without an error once the idle window passes.
	conn := &fakeConn{script: [][]byte{
		imageEvent(finalURL(uuidA), 200),
	}}
	a := NewAdapterWithDialer(testWSConfig(), fakeDialer(conn))

	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "x", N: 2}))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Frame == nil || !events[0].Frame.IsFinal {
		t.Errorf("event = %+v, want the final frame", events[0])
	}
}

func TestStreamHardTimeout(t *testing.T) {
	cfg := testWSConfig()
	cfg.HardTimeout = 30 * time.Millisecond
	cfg.BlockedThreshold = time.Hour

	conn := &fakeConn{}
	a := NewAdapterWithDialer(cfg, fakeDialer(conn))

	start := time.Now()
	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "x", N: 1}))
	if len(events) != 0 {
		t.Errorf("got %d events, want none", len(events))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("session ran %v past the hard timeout", elapsed)
	}
}

func TestStreamDialFailure(t *testing.T) {
	a := NewAdapterWithDialer(testWSConfig(), func(ctx context.Context, endpoint, cookie string) (Conn, error) {
		return nil, fmt.Errorf("connection refused")
	})
	events := collect(t, a.Stream(context.Background(), "cookie", Params{Prompt: "x", N: 1}))
	if len(events) != 1 || events[0].Err == nil || events[0].Err.Code != "connect_failed" {
		t.Fatalf("events = %+v, want one connect_failed error", events)
	}
}

func TestBetterPrefersFinality(t *testing.T) {
	finalSmall := Frame{ImageID: uuidA, IsFinal: true, PayloadSize: 100}
	nonFinalLarge := Frame{ImageID: uuidA, PayloadSize: 10000}
	if !better(finalSmall, nonFinalLarge) {
		t.Error("smaller final must beat larger non-final")
	}
	if better(nonFinalLarge, finalSmall) {
		t.Error("larger non-final must not beat final")
	}

	bigger := Frame{ImageID: uuidA, IsFinal: true, PayloadSize: 200}
	if !better(bigger, finalSmall) {
		t.Error("equal finality resolves by size")
	}
}

func TestGenerateKeepsBestFramePerImage(t *testing.T) {
	conn := &fakeConn{script: [][]byte{
		// Progressive frames for the same image, then its final.
		imageEvent("https://assets.example/"+uuidA+"/prev.webp", 5000),
		imageEvent(finalURL(uuidA), 150),
	}}
	a := NewAdapterWithDialer(testWSConfig(), fakeDialer(conn))

	results := a.Generate(context.Background(), "cookie", Params{Prompt: "x", N: 1})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("result errored: %v", results[0].Err)
	}
	if !results[0].Frame.IsFinal {
		t.Error("kept frame is not the final, despite the larger preview")
	}
}

func TestGeneratePadsMissingSlots(t *testing.T) {
	old := idleAfterProgress
	idleAfterProgress = 20 * time.Millisecond
	defer func() { idleAfterProgress = old }()

	cfg := testWSConfig()
	cfg.BatchSize = 4

	// Every session yields the same single final image.
	dial := func(ctx context.Context, endpoint, cookie string) (Conn, error) {
		return &fakeConn{script: [][]byte{imageEvent(finalURL(uuidA), 200)}}, nil
	}
	a := NewAdapterWithDialer(cfg, dial)

	results := a.Generate(context.Background(), "cookie", Params{Prompt: "x", N: 2})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Frame == nil || !results[0].Frame.IsFinal {
		t.Errorf("first slot = %+v, want the final frame", results[0])
	}
	if results[1].Err == nil || results[1].Err.Code != "image_generation_failed" {
		t.Errorf("second slot = %+v, want error placeholder", results[1])
	}
}
