package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tabletop/internal/game"
	"tabletop/internal/monitor"
	"tabletop/internal/table"
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type client struct {
	userID string
	send   chan []byte
	cancel context.CancelFunc
}

// Hub keeps the websocket clients of every table and pushes each of them
// its own view when the table changes.
type Hub struct {
	manager *table.Manager
	metrics *monitor.Metrics
	log     *zap.Logger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

func NewHub(manager *table.Manager, metrics *monitor.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		manager: manager,
		metrics: metrics,
		log:     log,
		clients: make(map[string]map[*client]struct{}),
	}
}

// TableChanged sends the new view to every client watching t.
func (h *Hub) TableChanged(t *table.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[t.ID] {
		h.sendState(c, t)
	}
}

func (h *Hub) sendState(c *client, t *table.Table) {
	view, err := viewFor(t, c.userID)
	if err != nil {
		h.log.Error("render view", zap.String("table", t.ID), zap.Error(err))
		sendWSMsg(c.send, "error", errorPayload{Message: "view unavailable"})
		return
	}
	sendWSMsg(c.send, "state", view)
}

func (h *Hub) register(tableID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[tableID] == nil {
		h.clients[tableID] = make(map[*client]struct{})
	}
	h.clients[tableID][c] = struct{}{}
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
}

func (h *Hub) unregister(tableID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[tableID][c]; !ok {
		return
	}
	delete(h.clients[tableID], c)
	if len(h.clients[tableID]) == 0 {
		delete(h.clients, tableID)
	}
	close(c.send)
	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for c := range clients {
			c.cancel()
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user := userID(r)
	if user == "" {
		user = r.URL.Query().Get("user")
	}
	t, err := h.manager.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks belong to the proxy in front
	})
	if err != nil {
		h.log.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &client{userID: user, send: make(chan []byte, 64), cancel: cancel}
	h.register(id, c)
	defer h.unregister(id, c)

	h.mu.Lock()
	h.sendState(c, t)
	h.mu.Unlock()

	go func() {
		for msg := range c.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, "error", errorPayload{Message: "invalid message"})
			continue
		}
		h.handleMessage(ctx, id, c, msg)
	}
	h.log.Debug("websocket closed", zap.String("table", id), zap.String("user", user))
}

func (h *Hub) handleMessage(ctx context.Context, id string, c *client, msg WSMessage) {
	if c.userID == "" {
		h.reply(c, "error", errorPayload{Message: "spectators cannot act"})
		return
	}
	var err error
	switch msg.Type {
	case "perform":
		var cmd game.Command
		if cmd, err = game.ParseCommand(msg.Payload); err == nil {
			_, err = h.manager.Perform(ctx, id, c.userID, cmd)
		}
	case "skip":
		_, err = h.manager.Skip(ctx, id, c.userID)
	case "end-turn":
		_, err = h.manager.EndTurn(ctx, id, c.userID)
	case "join":
		_, err = h.manager.Join(ctx, id, c.userID)
	case "accept":
		_, err = h.manager.Accept(ctx, id, c.userID)
	case "start":
		_, err = h.manager.Start(ctx, id, c.userID)
	case "leave":
		_, err = h.manager.Leave(ctx, id, c.userID)
	case "propose-leave":
		_, err = h.manager.ProposeToLeave(ctx, id, c.userID)
	case "agree-leave":
		_, err = h.manager.AgreeToLeave(ctx, id, c.userID)
	case "undo":
		_, err = h.manager.Undo(ctx, id, c.userID)
	default:
		h.reply(c, "error", errorPayload{Message: "unknown message type: " + msg.Type})
		return
	}
	if err != nil {
		h.reply(c, "error", errorPayload{Message: err.Error()})
	}
}

func (h *Hub) reply(c *client, msgType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sendWSMsg(c.send, msgType, payload)
}

// sendWSMsg queues a message without blocking; slow clients miss updates and
// catch up with the next state.
func sendWSMsg(send chan []byte, msgType string, payload any) {
	p, _ := json.Marshal(payload)
	msg, _ := json.Marshal(WSMessage{Type: msgType, Payload: p})
	select {
	case send <- msg:
	default:
	}
}

var _ table.Notifier = (*Hub)(nil)
