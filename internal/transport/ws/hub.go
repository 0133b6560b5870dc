package ws

import (
	"encoding/json"
	"sync"

	"gradeflow/internal/logger"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgNotification MessageType = "notification"
	MsgConnected    MessageType = "connected"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans messages out to every open connection of a user
type Hub struct {
	conns map[string]map[*Connection]struct{} // userID -> connections
	mu    sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *userMessage
	done       chan struct{}
	closeOnce  sync.Once
}

// Connection represents one WebSocket connection of a signed-in user
type Connection struct {
	UserID string
	Send   chan []byte
	Hub    *Hub
}

type userMessage struct {
	UserID string
	Data   []byte
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		conns:      make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *userMessage, 256),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for userID, set := range h.conns {
				for conn := range set {
					close(conn.Send)
				}
				delete(h.conns, userID)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.UserID] == nil {
				h.conns[conn.UserID] = make(map[*Connection]struct{})
			}
			h.conns[conn.UserID][conn] = struct{}{}
			n := len(h.conns[conn.UserID])
			h.mu.Unlock()
			logger.Debugf("[WS] user %s connected (%d open)", conn.UserID, n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.conns[conn.UserID]; ok {
				if _, ok := set[conn]; ok {
					delete(set, conn)
					close(conn.Send)
					if len(set) == 0 {
						delete(h.conns, conn.UserID)
					}
					logger.Debugf("[WS] user %s disconnected", conn.UserID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.conns[msg.UserID] {
				select {
				case conn.Send <- msg.Data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Connected reports how many connections userID has open
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// SendToUser pushes a message to every connection of userID (implements service.Broadcaster).
// Users without connections are skipped; they read the persisted notification later.
func (h *Hub) SendToUser(userID, msgType string, payload interface{}) {
	data, err := encode(MessageType(msgType), payload)
	if err != nil {
		logger.Warnf("[WS] failed to encode %s for user %s: %v", msgType, userID, err)
		return
	}
	select {
	case h.broadcast <- &userMessage{UserID: userID, Data: data}:
	case <-h.done:
	default:
		logger.Warnf("[WS] broadcast queue full, dropping %s for user %s", msgType, userID)
	}
}

// Close disconnects every client and stops the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func encode(msgType MessageType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: msgType, Payload: raw})
}
