package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	maxFrameSize  = 64 * 1024
	sendQueueSize = 256
)

// Client is one live websocket connection. A connection belongs to at most
// one agent identity (set by register_presence) but an agent may hold many
// connections at once.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// mu guards send and closed. Broadcast goroutines and relay-queue tasks
	// may deliver to a client at any point after snapshotting it; the close
	// on disconnect must not race those sends.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue hands a frame to the write pump without blocking the caller. A
// frame for a client that already disconnected is discarded; a client that
// cannot drain its queue is dropped, matching the broadcast behavior
// everywhere else in the hub.
func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.drop(c)
	}
}

// closeSend closes the queue exactly once. Called with the hub mutex held;
// enqueue never holds c.mu while taking the hub mutex, so the two locks
// cannot deadlock.
func (c *Client) closeSend() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Client) sendEvent(event string, data interface{}) {
	c.enqueue(marshalEvent(event, data))
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.sendEvent(EvActionError, actionResult{Action: "parse", Message: "malformed event frame"})
			continue
		}
		c.hub.handleEvent(c, env)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
