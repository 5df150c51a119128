package stream

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveone/liveone/pkg/types"
)

// wsWriteTimeout is the deadline for writing one event frame to the client.
const wsWriteTimeout = 5 * time.Second

// ConnEmitter writes progress events to one websocket connection, one
// validated JSON object per text frame, in emission order. It is not safe for
// concurrent use; the bulk coordinator serializes emissions.
type ConnEmitter struct {
	conn *websocket.Conn
}

// NewConnEmitter returns an emitter over an upgraded connection.
func NewConnEmitter(conn *websocket.Conn) *ConnEmitter {
	return &ConnEmitter{conn: conn}
}

// Emit implements the coordinator's Emitter contract. A write failure is
// permanent for the stream; the caller stops emitting.
func (e *ConnEmitter) Emit(ev types.ProgressEvent) error {
	data, err := types.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("refusing to emit invalid event: %w", err)
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write event frame: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (e *ConnEmitter) Close() error {
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = e.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return e.conn.Close()
}
