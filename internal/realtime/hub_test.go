package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/beatmart/chatsync/internal/bus"
	"github.com/beatmart/chatsync/internal/models"
	"github.com/beatmart/chatsync/internal/store"
)

type hubFixture struct {
	data *store.SQLiteStore
	bus  *bus.MemoryBus
	hub  *Hub

	alice *models.Profile
	bob   *models.Profile
	carol *models.Profile
	conv  *models.Conversation
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	data, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(data.Close)

	f := &hubFixture{data: data, bus: bus.NewMemoryBus()}
	t.Cleanup(f.bus.Close)

	for nick, dst := range map[string]**models.Profile{"alice": &f.alice, "bob": &f.bob, "carol": &f.carol} {
		p, err := data.CreateProfile(context.Background(), nick, "")
		if err != nil {
			t.Fatalf("create profile %q: %v", nick, err)
		}
		*dst = p
	}

	conv, _, err := data.GetOrCreateConversation(context.Background(), f.alice.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	f.conv = conv

	f.hub = NewHub(data, f.bus, zerolog.Nop())
	if err := f.hub.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(f.hub.Close)

	return f
}

// connect opens a real websocket pair and attaches the server side to
// the hub as a session of the given user.
func (f *hubFixture) connect(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.hub.Attach(NewConnection(userID, ws))
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func readEvent(t *testing.T, client *websocket.Conn) *models.Event {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &event
}

func TestHubRoutesToParticipants(t *testing.T) {
	f := newHubFixture(t)

	aliceWS := f.connect(t, f.alice.ID)
	bobWS := f.connect(t, f.bob.ID)

	msg, _, err := f.data.InsertMessage(context.Background(), &models.Message{
		ConversationID: f.conv.ID,
		FromID:         f.alice.ID,
		Body:           "new track up",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	f.bus.Publish(context.Background(), &models.Event{
		Type:           models.EventMessageInsert,
		ConversationID: f.conv.ID,
		Message:        msg,
	})

	for _, client := range []*websocket.Conn{aliceWS, bobWS} {
		event := readEvent(t, client)
		if event.Type != models.EventMessageInsert {
			t.Fatalf("unexpected event type %q", event.Type)
		}
		if event.Message == nil || event.Message.ID != msg.ID {
			t.Fatalf("unexpected event payload: %+v", event)
		}
	}
}

func TestHubDoesNotLeakToOutsiders(t *testing.T) {
	f := newHubFixture(t)

	carolWS := f.connect(t, f.carol.ID)

	f.bus.Publish(context.Background(), &models.Event{
		Type:           models.EventMessageInsert,
		ConversationID: f.conv.ID,
		Message:        &models.Message{ID: "01JX000000000000000000000X", ConversationID: f.conv.ID},
	})

	carolWS.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := carolWS.ReadMessage(); err == nil {
		t.Fatal("outsider received a participant-only event")
	}
}

func TestHubMultipleSessionsPerUser(t *testing.T) {
	f := newHubFixture(t)

	first := f.connect(t, f.alice.ID)
	second := f.connect(t, f.alice.ID)

	msg, _, err := f.data.InsertMessage(context.Background(), &models.Message{
		ConversationID: f.conv.ID,
		FromID:         f.bob.ID,
		Body:           "two tabs",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	f.bus.Publish(context.Background(), &models.Event{
		Type:           models.EventMessageInsert,
		ConversationID: f.conv.ID,
		Message:        msg,
	})

	for _, client := range []*websocket.Conn{first, second} {
		event := readEvent(t, client)
		if event.Message == nil || event.Message.Body != "two tabs" {
			t.Fatalf("session missed the event: %+v", event)
		}
	}
}
