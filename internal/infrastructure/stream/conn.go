package stream

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the stream layer uses. Narrowed so
// tests can stand in a fake peer.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Conn wraps one bidirectional connection. It carries at most one connection
// ID (assigned lazily on first join) and at most one room key (assigned once
// during admission). Writes are serialized; gorilla allows one concurrent
// writer only.
type Conn struct {
	mu      sync.Mutex
	ws      Socket
	id      string
	roomKey string
	closed  bool
}

func NewConn(ws Socket) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Conn) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == "" {
		c.id = id
	}
}

func (c *Conn) RoomKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomKey
}

func (c *Conn) setRoomKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomKey == "" {
		c.roomKey = key
	}
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Conn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteText(data)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// CloseWithReason sends a close frame with the given status code and reason,
// then tears the connection down.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.closed = true
	err := c.ws.Close()
	c.mu.Unlock()
	return err
}
