package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// Filter selects the events a client receives. Empty lists match everything.
type Filter struct {
	Markets []uint64           `json:"markets"`
	Types   []domain.EventType `json:"types"`
	Format  string             `json:"format"`
}

// subscribeMsg is sent by clients to replace their filter.
type subscribeMsg struct {
	Action string `json:"action"`
	Filter
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), filter: Filter{Format: FormatJSON}}
}

func (c *client) format() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Format
}

func (c *client) wants(evt domain.LedgerEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.matches(evt)
}

func (f Filter) matches(evt domain.LedgerEvent) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == evt.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Markets) > 0 {
		if evt.MarketID == nil {
			return false
		}
		for _, id := range f.Markets {
			if id == *evt.MarketID {
				return true
			}
		}
		return false
	}
	return true
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.apply(msg)
	}
}

// apply handles {"action":"subscribe",...} and {"action":"reset"}.
func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		format := c.filter.Format
		if msg.Format == FormatJSON || msg.Format == FormatProto {
			format = msg.Format
		}
		c.filter = Filter{Markets: msg.Markets, Types: msg.Types, Format: format}
	case "reset":
		c.filter = Filter{Format: c.filter.Format}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.TextMessage
			if c.format() == FormatProto && !isJSON(message) {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isJSON reports whether a frame is a JSON object, as the hello frame is in
// every format.
func isJSON(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}
