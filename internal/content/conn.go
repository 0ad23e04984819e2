package content

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

const (
	maxMessageSize = 512 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

type conn struct {
	id   string
	ws   *websocket.Conn
	link *Link
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, link *Link) *conn {
	return &conn{
		id:   uuid.NewString(),
		ws:   ws,
		link: link,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("content.read_error", "conn", c.id, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) handleFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		slog.Warn("content.bad_frame", "conn", c.id, "error", err)
		return
	}

	switch frameType {
	case protocol.FrameTypeEvent:
		var ev protocol.EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("content.bad_frame", "conn", c.id, "error", err)
			return
		}
		c.link.handleEvent(&ev)
	case protocol.FrameTypeResponse:
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("content.bad_frame", "conn", c.id, "error", err)
			return
		}
		c.link.resolve(c, &resp)
	default:
		c.enqueue(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType))
	}
}

// enqueue marshals v onto the send queue. It reports false once the
// connection is closed; a full queue drops the frame.
func (c *conn) enqueue(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("content.marshal_failed", "error", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("content.send_buffer_full", "conn", c.id)
	}
	return true
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
