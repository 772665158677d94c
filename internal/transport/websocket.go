package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

const wsReadLimit = 1 << 20

// WSDialer dials the primary WebSocket push transport.
type WSDialer struct {
	URL    string
	Header http.Header
}

// Name implements Dialer.
func (d *WSDialer) Name() string { return "websocket" }

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Stream, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL, err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Receive(ctx context.Context) (json.RawMessage, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "teardown")
}
