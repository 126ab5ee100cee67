// Package ws streams committed ledger events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/polywager/internal/domain"
	"github.com/alanyoungcy/polywager/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Frame formats a client can ask for.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Hub fans ledger events from the signal bus out to connected clients.
type Hub struct {
	bus      domain.SignalBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. checkOrigin may be nil to accept every origin.
func NewHub(bus domain.SignalBus, m *metrics.Metrics, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		bus:     bus,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to the ledger channel and broadcasts until ctx ends, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: hub started", slog.String("channel", domain.EventsChannel))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				h.closeAll()
				return ctx.Err()
			}
			h.broadcast(payload)
		}
	}
}

func (h *Hub) broadcast(payload []byte) {
	var evt domain.LedgerEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Warn("ws: dropping malformed event", slog.String("error", err.Error()))
		return
	}
	frames := encodedFrames{json: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		frame, err := frames.get(c.format())
		if err != nil {
			h.logger.Warn("ws: encode event failed", slog.String("error", err.Error()))
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSClients(n)
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSClients(n)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.SetWSClients(0)
}

// HandleWS upgrades the request and streams events to the new client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn)
	if r.URL.Query().Get("format") == FormatProto {
		c.filter.Format = FormatProto
	}
	hello, _ := json.Marshal(map[string]any{
		"type":        "hello",
		"channel":     domain.EventsChannel,
		"server_time": time.Now().UTC(),
	})
	c.send <- hello
	h.add(c)

	go c.writePump()
	go c.readPump()
}

// encodedFrames encodes an event at most once per format.
type encodedFrames struct {
	json  []byte
	proto []byte
}

func (f *encodedFrames) get(format string) ([]byte, error) {
	if format != FormatProto {
		return f.json, nil
	}
	if f.proto == nil {
		b, err := EncodeProto(f.json)
		if err != nil {
			return nil, err
		}
		f.proto = b
	}
	return f.proto, nil
}

// EncodeProto converts a JSON event into a serialized structpb.Struct.
func EncodeProto(payload []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}
