package chatsync

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EventSource delivers realtime events for every conversation of the
// authenticated user. Implementations must invoke the handler from a
// single goroutine so events arrive in delivery order.
type EventSource interface {
	// Subscribe starts delivery and returns a stop function. The stop
	// function is idempotent.
	Subscribe(ctx context.Context, handler func(*Event)) (func(), error)
}

const reconnectDelay = 2 * time.Second

// Stream is the websocket EventSource for the chat gateway. One
// connection carries the whole session regardless of how many
// conversations exist; reconnection is handled internally.
type Stream struct {
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
}

// NewStream creates a Stream for the given gateway and session token.
func NewStream(baseURL, token string) *Stream {
	return &Stream{
		BaseURL: baseURL,
		Token:   token,
		Dialer:  websocket.DefaultDialer,
	}
}

// wsURL converts the gateway base URL into the feed endpoint URL.
func (s *Stream) wsURL() string {
	u := s.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + u[len("https://"):]
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + u[len("http://"):]
	}
	return u + "/ws?token=" + url.QueryEscape(s.Token)
}

// Subscribe dials the feed and pumps events into the handler until the
// context is canceled or the stop function is called. Dropped
// connections are redialed after a short delay.
func (s *Stream) Subscribe(ctx context.Context, handler func(*Event)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, _, err := s.Dialer.DialContext(ctx, s.wsURL(), nil)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.pump(ctx, conn, handler)

	return cancel, nil
}

func (s *Stream) pump(ctx context.Context, conn *websocket.Conn, handler func(*Event)) {
	for {
		s.readLoop(ctx, conn, handler)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		// Redial after a dropped connection
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			next, _, err := s.Dialer.DialContext(ctx, s.wsURL(), nil)
			if err == nil {
				conn = next
				break
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, handler func(*Event)) error {
	// Unblock the read when the context is canceled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		handler(&event)
	}
}
