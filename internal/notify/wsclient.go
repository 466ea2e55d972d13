package notify

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WSClient bridges one websocket connection to the hub. Clients are
// listen-only: inbound frames are drained for keepalive handling and
// otherwise discarded.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	subID  uint64
	events chan Event
}

func NewWSClient(hub *Hub, conn *websocket.Conn, topics ...string) *WSClient {
	id, ch := hub.Subscribe(topics...)
	return &WSClient{
		hub:    hub,
		conn:   conn,
		subID:  id,
		events: ch,
	}
}

// Run serves the connection until the peer disconnects or the hub closes.
// It blocks; callers run it on the request goroutine.
func (c *WSClient) Run() {
	go c.writePump()
	c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.subID)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case e, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub detached us.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				slog.Debug("websocket write error", "error", err)
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
