// Package broker provides in-memory rooms keyed by party code.
// It is used to push party, queue and playback changes to realtime connections.
package broker

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Room acknowledgements sent to the joining or leaving client only.
const (
	EventJoined = "joined"
	EventLeft   = "left"
	EventError  = "error"
)

// DefaultBuffer is the mailbox size used when NewClient is given zero.
const DefaultBuffer = 32

// Message is one frame delivered to a client.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomAck is the payload of joined/left acknowledgements.
type RoomAck struct {
	Code string `json:"code"`
}

// ErrorNotice is the payload of an error frame.
type ErrorNotice struct {
	Error string `json:"error"`
}

// Client is one realtime connection. Its mailbox is buffered; when it is
// full further messages are dropped for that client.
type Client struct {
	ID   string
	send chan Message
}

// NewClient creates a client with the given mailbox size.
func NewClient(buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Client{
		ID:   uuid.NewString(),
		send: make(chan Message, buffer),
	}
}

// Messages returns the client's mailbox. It is never closed.
func (c *Client) Messages() <-chan Message {
	return c.send
}

func (c *Client) deliver(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub is a room-scoped pub/sub registry. A client may sit in many rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	dropLog rate.Sometimes
}

// New creates a ready-to-use Hub.
func New() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Join adds c to room and acknowledges to c.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.mu.Unlock()

	h.Send(c, EventJoined, RoomAck{Code: room})
}

// Leave removes c from room and acknowledges to c.
// Empty rooms are cleaned up.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	h.remove(c, room)
	h.mu.Unlock()

	h.Send(c, EventLeft, RoomAck{Code: room})
}

// Disconnect removes c from every room without acknowledging.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, subs := range h.rooms {
		if _, ok := subs[c]; ok {
			h.remove(c, room)
		}
	}
}

func (h *Hub) remove(c *Client, room string) {
	if subs, ok := h.rooms[room]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish encodes payload once and offers it to every client in room.
// It never blocks and returns how many clients accepted the message.
func (h *Hub) Publish(room, event string, payload any) int {
	msg, ok := encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered, dropped := 0, 0
	for c := range h.rooms[room] {
		if c.deliver(msg) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.dropLog.Do(func() {
			slog.Warn("broker: dropped messages for slow clients",
				slog.String("room", room), slog.String("event", event), slog.Int("dropped", dropped))
		})
	}
	return delivered
}

// Send delivers a message to a single client.
func (h *Hub) Send(c *Client, event string, payload any) bool {
	msg, ok := encode(event, payload)
	if !ok {
		return false
	}
	return c.deliver(msg)
}

// Subscribers reports how many clients are in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func encode(event string, payload any) (Message, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("broker: failed to encode payload", slog.String("event", event), slog.Any("error", err))
		return Message{}, false
	}
	return Message{Event: event, Data: data}, true
}
