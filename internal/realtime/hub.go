package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/beatmart/chatsync/internal/bus"
	"github.com/beatmart/chatsync/internal/models"
	"github.com/beatmart/chatsync/internal/store"
)

// Hub routes bus events to the websocket sessions of conversation
// participants. A user may hold several sessions (tabs, devices); each
// receives the full feed for every conversation the user is in.
type Hub struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[string]*Connection // userID -> connection ID -> connection

	data   store.DataStore
	bus    bus.Bus
	sub    bus.Subscription
	events chan *models.Event
	done   chan struct{}
	logger zerolog.Logger
}

// NewHub constructs a Hub over the given store and bus.
func NewHub(data store.DataStore, b bus.Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		users:  make(map[uuid.UUID]map[string]*Connection),
		data:   data,
		bus:    b,
		events: make(chan *models.Event, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start subscribes to the bus and launches the dispatch loop. Dispatch
// is single-threaded so events reach each session in delivery order.
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.bus.Subscribe(ctx, h.enqueue)
	if err != nil {
		return err
	}
	h.sub = sub

	go h.dispatchLoop()
	return nil
}

// enqueue hands an event to the dispatch loop without blocking the bus.
func (h *Hub) enqueue(event *models.Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn().
			Str("conversation_id", event.ConversationID.String()).
			Msg("event queue full, dropping event")
	}
}

func (h *Hub) dispatchLoop() {
	for {
		select {
		case <-h.done:
			return
		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

func (h *Hub) dispatch(event *models.Event) {
	participants, err := h.data.ParticipantIDs(context.Background(), event.ConversationID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("conversation_id", event.ConversationID.String()).
			Msg("resolve participants failed")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event failed")
		return
	}

	h.mu.RLock()
	var conns []*Connection
	for _, userID := range participants {
		for _, conn := range h.users[userID] {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			h.Detach(conn)
		}
	}
}

// Attach registers a connection and starts its write loop.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	sessions := h.users[conn.UserID]
	if sessions == nil {
		sessions = make(map[string]*Connection)
		h.users[conn.UserID] = sessions
	}
	sessions[conn.ID] = conn
	h.mu.Unlock()

	conn.Start()
}

// Detach removes a connection if it is still tracked.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	if sessions, ok := h.users[conn.UserID]; ok {
		delete(sessions, conn.ID)
		if len(sessions) == 0 {
			delete(h.users, conn.UserID)
		}
	}
	h.mu.Unlock()
}

// Close unsubscribes from the bus and terminates all connections.
func (h *Hub) Close() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	close(h.done)

	h.mu.Lock()
	var conns []*Connection
	for _, sessions := range h.users {
		for _, conn := range sessions {
			conns = append(conns, conn)
		}
	}
	h.users = make(map[uuid.UUID]map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "hub shutdown")
	}
}
