package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/songify/partyqueue/internal/broker"
	"github.com/songify/partyqueue/internal/middleware"
	"github.com/songify/partyqueue/internal/models"
	"github.com/songify/partyqueue/internal/party"
)

// Client to server events.
const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventUpdatePlayback = "updatePlayback"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 << 10
)

// RealtimeHandler bridges websocket connections to party rooms. Each
// connection gets a hub mailbox drained by a single writer goroutine.
type RealtimeHandler struct {
	store    *party.Store
	hub      *broker.Hub
	buffer   int
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(store *party.Store, hub *broker.Hub, origins middleware.AllowedOrigins, buffer int) *RealtimeHandler {
	return &RealtimeHandler{
		store:  store,
		hub:    hub,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return origins.Allows(r.Header.Get("Origin"))
			},
		},
	}
}

// Serve upgrades the request and runs the connection until either side closes it.
func (h *RealtimeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := broker.NewClient(h.buffer)
	slog.Debug("websocket connected", slog.String("client_id", client.ID))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, client, done)
	}()

	h.readLoop(r.Context(), conn, client)

	h.hub.Disconnect(client)
	close(done)
	wg.Wait()
	conn.Close()
	slog.Debug("websocket disconnected", slog.String("client_id", client.ID))
}

func (h *RealtimeHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *broker.Client) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", slog.String("client_id", client.ID), slog.Any("error", err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg broker.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(client, "malformed frame")
			continue
		}
		h.dispatch(ctx, client, msg)
	}
}

func (h *RealtimeHandler) writeLoop(conn *websocket.Conn, client *broker.Client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-client.Messages():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				// Unblocks the reader so Serve can clean up.
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h *RealtimeHandler) dispatch(ctx context.Context, client *broker.Client, msg broker.Message) {
	switch msg.Event {
	case EventJoin, EventLeave:
		var req models.RoomRequest
		if err := unmarshalData(msg.Data, &req); err != nil {
			h.sendError(client, "invalid "+msg.Event+" payload")
			return
		}
		code := party.NormalizeCode(req.Code)
		if code == "" {
			h.sendError(client, "code is required")
			return
		}
		if msg.Event == EventLeave {
			h.hub.Leave(client, code)
			return
		}
		if _, err := h.store.Get(ctx, code); err != nil {
			h.sendStoreError(client, err)
			return
		}
		h.hub.Join(client, code)

	case EventUpdatePlayback:
		var ev models.PlaybackEvent
		if err := unmarshalData(msg.Data, &ev); err != nil {
			h.sendError(client, "invalid updatePlayback payload")
			return
		}
		// The room, sender included, hears about it through the store's publish.
		if _, err := h.store.UpdatePlayback(ctx, ev.Code, ev.CurrentSong); err != nil {
			h.sendStoreError(client, err)
		}

	default:
		h.sendError(client, "unknown event "+msg.Event)
	}
}

func (h *RealtimeHandler) sendStoreError(client *broker.Client, err error) {
	if errors.Is(err, party.ErrPartyNotFound) {
		h.sendError(client, "party not found")
		return
	}
	slog.Error("realtime store operation failed", slog.String("client_id", client.ID), slog.Any("error", err))
	h.sendError(client, "internal error")
}

func (h *RealtimeHandler) sendError(client *broker.Client, msg string) {
	h.hub.Send(client, broker.EventError, broker.ErrorNotice{Error: msg})
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}
