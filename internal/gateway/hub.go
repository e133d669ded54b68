package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/terminal-bench/nftauction/pkg/messaging"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSClient is one websocket subscriber. AuctionID 0 receives every auction.
type WSClient struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	Send chan []byte
	Done chan struct{}

	mu        sync.Mutex
	auctionID uint64
	closeOnce sync.Once
}

func (c *WSClient) wants(auctionID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auctionID == 0 || c.auctionID == auctionID
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// WSMessage is sent by clients to narrow or widen their subscription.
type WSMessage struct {
	Type      string `json:"type"`
	AuctionID uint64 `json:"auction_id"`
}

// Hub fans auction events out to websocket clients. It implements
// messaging.Publisher so the engine can publish to it directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*WSClient
	bus     *messaging.Client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*WSClient),
		logger:  logger,
	}
}

var _ messaging.Publisher = (*Hub)(nil)

func (h *Hub) Publish(_ context.Context, _ string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	h.Broadcast(payload)
	return nil
}

// Broadcast delivers an encoded event. Slow clients are disconnected rather
// than allowed to block delivery.
func (h *Hub) Broadcast(payload []byte) {
	var envelope struct {
		AuctionID uint64 `json:"auction_id"`
	}
	_ = json.Unmarshal(payload, &envelope)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(envelope.AuctionID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("dropping slow websocket client", "client_id", client.ID)
			client.close()
		}
	}
}

// Relay feeds events published on NATS by any replica into the hub.
func (h *Hub) Relay(client *messaging.Client) error {
	if err := client.Subscribe(messaging.SubjectAuctionAll, func(msg *nats.Msg) {
		h.Broadcast(msg.Data)
	}); err != nil {
		return err
	}
	h.mu.Lock()
	h.bus = client
	h.mu.Unlock()
	return nil
}

// busState reports the relay connection, or "" when events are local only.
func (h *Hub) busState() string {
	h.mu.RLock()
	bus := h.bus
	h.mu.RUnlock()
	switch {
	case bus == nil:
		return ""
	case bus.IsConnected():
		return "connected"
	default:
		return "disconnected"
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.close()
	}
}

// ServeWS upgrades the request. The auction_id query parameter subscribes
// to a single auction.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		ID:   uuid.New(),
		Conn: conn,
		Send: make(chan []byte, wsSendBuffer),
		Done: make(chan struct{}),
	}
	if id := c.Query("auction_id"); id != "" {
		fmt.Sscan(id, &client.auctionID)
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	go h.readPump(client)
	go h.writePump(client)
}

func (h *Hub) unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	client.close()
}

func (h *Hub) readPump(client *WSClient) {
	defer h.unregister(client)

	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			client.mu.Lock()
			client.auctionID = msg.AuctionID
			client.mu.Unlock()
		case "unsubscribe":
			client.mu.Lock()
			client.auctionID = 0
			client.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(client *WSClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.unregister(client)
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}
		case <-client.Done:
			client.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}
