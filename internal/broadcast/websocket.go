package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// WSTransport sends messages as WebSocket text frames. Send is only called
// from the subscriber's writer goroutine, which satisfies gorilla's single
// writer rule; Close uses a control frame and may run concurrently.
type WSTransport struct {
	conn *websocket.Conn
	once sync.Once
	err  error
}

// NewWSTransport wraps an upgraded connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// Send writes payload, using ctx's deadline as the write deadline.
func (t *WSTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	err := t.conn.WriteMessage(websocket.TextMessage, payload)
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

// Close sends a normal-closure frame and closes the connection.
func (t *WSTransport) Close() error {
	t.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		t.err = t.conn.Close()
	})
	return t.err
}
