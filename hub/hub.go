// Package hub pushes cart change notifications to each user's open
// WebSocket connections.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"stopshop/models"
	"stopshop/mq"
	"stopshop/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type Client struct {
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
}

type broadcastMsg struct {
	UserID string
	Data   []byte
}

// Hub groups connections into one room per user.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	mu         sync.Mutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.UserID] == nil {
				h.rooms[c.UserID] = make(map[*Client]bool)
			}
			h.rooms[c.UserID][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(c)
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[m.UserID] {
				select {
				case c.Send <- m.Data:
				default:
					h.dropLocked(c)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for _, conns := range h.rooms {
				for c := range conns {
					h.dropLocked(c)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) dropLocked(c *Client) {
	conns := h.rooms[c.UserID]
	if conns == nil || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(h.rooms, c.UserID)
	}
}

// Stop closes every connection and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Connections reports how many connections userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[userID])
}

// Notify queues a cartUpdated event for userID's connections. It never
// blocks; when the queue is full the event is dropped.
func (h *Hub) Notify(userID string) {
	data, _ := json.Marshal(models.CartEvent{
		Action:    models.CartUpdatedAction,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	})
	select {
	case h.broadcast <- broadcastMsg{UserID: userID, Data: data}:
	case <-h.stop:
	default:
		h.log.Warn("cart notification dropped", zap.String("userId", userID))
	}
}

// CartChanged satisfies the cart handler's notifier.
func (h *Hub) CartChanged(_ context.Context, userID string) { h.Notify(userID) }

// BrokerNotifier fans cart changes out through redis so every service
// instance can reach the user's connections.
type BrokerNotifier struct {
	Broker *mq.Broker
	Log    *zap.Logger
}

func (n BrokerNotifier) CartChanged(ctx context.Context, userID string) {
	ev := models.CartEvent{Action: models.CartUpdatedAction, UserID: userID, Timestamp: time.Now().Unix()}
	if err := n.Broker.Emit(ctx, mq.CartChannel, ev); err != nil && n.Log != nil {
		n.Log.Warn("cart event not published", zap.String("userId", userID), zap.Error(err))
	}
}

// Relay delivers cart events published on the broker to local connections.
func (h *Hub) Relay(ctx context.Context, broker *mq.Broker) error {
	return broker.Listen(ctx, mq.CartChannel, func(payload []byte) {
		var ev models.CartEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.UserID == "" {
			h.log.Debug("ignoring cart event", zap.ByteString("payload", payload))
			return
		}
		h.Notify(ev.UserID)
	})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// WebSocketHandler upgrades an authenticated request and registers the
// connection under the caller's user id.
func WebSocketHandler(hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID := utils.GetUserIDFromRequest(r)
		if userID == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Debug("upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			Conn:   conn,
			Send:   make(chan []byte, 16),
			UserID: userID,
		}

		select {
		case hub.register <- client:
		case <-hub.stop:
			conn.Close()
			return
		}
		go writePump(client)
		go readPump(client, hub)
	}
}

func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for the connection closing; clients send nothing.
func readPump(c *Client, hub *Hub) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
