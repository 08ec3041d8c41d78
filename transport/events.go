package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"stopshop/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SubscribeCartEvents opens the live cart feed for the current user. The
// returned channel closes when ctx ends or the connection drops.
func (c *Client) SubscribeCartEvents(ctx context.Context) (<-chan models.CartEvent, error) {
	const op = "subscribe cart events"
	token, err := c.bearer(ctx, op)
	if err != nil {
		return nil, err
	}

	wsURL := c.baseURL + "/api/cart/events"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(op, resp)
		}
		return nil, newError(op, KindNetwork, 0, "could not open event stream", err)
	}

	out := make(chan models.CartEvent, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Info("cart event stream closed", zap.Error(err))
				}
				return
			}
			var ev models.CartEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.log.Warn("bad cart event", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
