package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/intake/pulse"
)

// WebSocket timeouts following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send pings; anything large is a misbehaving peer
	maxMessageSize = 4096
)

// Message is the envelope written to WebSocket clients
type Message struct {
	Type string      `json:"type"` // "progress" or "log"
	Data pulse.Event `json:"data"`
}

// Client is one WebSocket connection watching an owner's jobs
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	owner     string
	id        string
	send      chan pulse.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, owner string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		owner: owner,
		id:    uuid.NewString(),
		send:  make(chan pulse.Event, MaxClientMessageQueueSize),
		done:  make(chan struct{}),
	}
}

// close stops the write pump; send is never closed so Publish cannot panic
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump consumes client frames so pongs and close frames are processed
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.logger.Warnw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		if msg.Type == "ping" {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// writePump delivers queued events and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case event := <-c.send:
			msgType := "progress"
			if event.SubStep == pulse.SubStepLog {
				msgType = "log"
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(Message{Type: msgType, Data: event}); err != nil {
				c.hub.logger.Debugw("Event write error", "client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
