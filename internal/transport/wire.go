package transport

import (
	"context"

	"github.com/coder/websocket"
)

// wire is the slice of the socket the link needs. Production wraps a
// *websocket.Conn; tests feed an in-memory implementation through Dialer.
type wire interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens the physical connection.
type Dialer func(ctx context.Context, url string) (wire, error)

// WebsocketDialer is the production dialer.
func WebsocketDialer(ctx context.Context, url string) (wire, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsWire{conn: conn}, nil
}

type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsWire) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsWire) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}
