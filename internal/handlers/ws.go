package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beatmart/chatsync/internal/api/middleware"
	"github.com/beatmart/chatsync/internal/metrics"
	"github.com/beatmart/chatsync/internal/realtime"
)

const (
	// The feed is one-way; inbound frames are control traffic only.
	maxInboundFrame = 512

	// Must exceed the write loop's 30s ping interval so a healthy
	// client always refreshes the deadline in time.
	pongWait = 75 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS layer; the feed itself is
	// authenticated per-session.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscribe upgrades the request to a websocket and attaches it to the
// hub. One channel carries every conversation of the user; routing is
// the client's job.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	if caller == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(caller.ID, ws)
	h.hub.Attach(conn)
	metrics.WebsocketSessions.Inc()

	h.logger.Info().
		Str("user_id", caller.ID.String()).
		Str("session_id", conn.ID).
		Msg("websocket session opened")

	// The feed is one-way; drain inbound frames to process pongs and
	// detect the close. A client that stops answering pings trips the
	// read deadline and the session is torn down.
	go func() {
		defer func() {
			h.hub.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "client gone")
			metrics.WebsocketSessions.Dec()
		}()
		ws.SetReadLimit(maxInboundFrame)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
