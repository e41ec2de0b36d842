package imagews

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// gorillaDial opens the provider websocket with the session cookie.
// The adapter performs exactly one write per session, so no
// application-level write locking is needed.
func gorillaDial(ctx context.Context, endpoint, cookie string) (Conn, error) {
	header := http.Header{}
	header.Set("Cookie", "sso="+cookie+"; sso-rw="+cookie)
	header.Set("Origin", "https://grok.com")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}
