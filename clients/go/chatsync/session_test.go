package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeGateway struct {
	mu            sync.Mutex
	conversations []ConversationView
	messages      map[string][]Message
	users         []Profile
	postErr       error
	listErr       error
	postCalls     int
	createCalls   int
	nextID        int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{messages: make(map[string][]Message)}
}

func (g *fakeGateway) mintID() string {
	g.nextID++
	return fmt.Sprintf("01J%026d", g.nextID)
}

func (g *fakeGateway) ListConversations(ctx context.Context) ([]ConversationView, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]ConversationView, len(g.conversations))
	copy(out, g.conversations)
	return out, nil
}

func (g *fakeGateway) CreateConversation(ctx context.Context, userID string) (Conversation, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	for _, v := range g.conversations {
		if v.Counterpart.ID == userID {
			return Conversation{ID: v.ID}, false, nil
		}
	}
	conv := ConversationView{ID: g.mintID(), Counterpart: Profile{ID: userID}}
	g.conversations = append(g.conversations, conv)
	return Conversation{ID: conv.ID}, true, nil
}

func (g *fakeGateway) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]Message, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, false, g.listErr
	}
	all := g.messages[conversationID]
	end := len(all)
	if before != "" {
		for i, m := range all {
			if m.ID == before {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, end-start)
	copy(out, all[start:end])
	return out, start > 0, nil
}

func (g *fakeGateway) PostMessage(ctx context.Context, conversationID string, req PostMessageRequest) (*Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.postCalls++
	if g.postErr != nil {
		return nil, g.postErr
	}
	for _, m := range g.messages[conversationID] {
		if req.ClientID != "" && m.ClientID == req.ClientID {
			dup := m
			return &dup, nil
		}
	}
	stored := Message{
		ID:             g.mintID(),
		ClientID:       req.ClientID,
		ConversationID: conversationID,
		From:           "user-self",
		Body:           req.Body,
		ReplyToID:      req.ReplyToID,
		Timestamp:      time.Now().UnixMilli(),
	}
	g.messages[conversationID] = append(g.messages[conversationID], stored)
	return &stored, nil
}

func (g *fakeGateway) MarkRead(ctx context.Context, conversationID, messageID string) error {
	return nil
}

func (g *fakeGateway) SearchUsers(ctx context.Context, query string) ([]Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.users, nil
}

type fakeFeed struct {
	mu      sync.Mutex
	handler func(*Event)
	stopped bool
}

func (f *fakeFeed) Subscribe(ctx context.Context, handler func(*Event)) (func(), error) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) deliver(event *Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(event)
	}
}

func newTestSession(t *testing.T, gw *fakeGateway) (*Session, *fakeFeed) {
	t.Helper()
	feed := &fakeFeed{}
	s := NewSession(Profile{ID: "user-self", Nickname: "self"}, gw, feed, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, feed
}

func TestSendMessageOptimistic(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	clientID := s.SendMessage(context.Background(), "conv-1", "hey", "")
	if clientID == "" {
		t.Fatal("expected a client ID")
	}

	// Pending entry is visible before the gateway round trip resolves
	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Status != StatusPending && msgs[0].Status != StatusConfirmed {
		t.Fatalf("unexpected status %q", msgs[0].Status)
	}

	s.Wait()

	msgs = s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 message after confirm, got %d", len(msgs))
	}
	if msgs[0].Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %q", msgs[0].Status)
	}
	if msgs[0].ID == "" {
		t.Fatal("confirmed message has no server ID")
	}
	if msgs[0].ClientID != clientID {
		t.Fatalf("client ID mismatch: %q vs %q", msgs[0].ClientID, clientID)
	}
}

func TestSendMessageEmptyNoop(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)

	if id := s.SendMessage(context.Background(), "conv-1", "", ""); id != "" {
		t.Fatalf("expected no-op, got client ID %q", id)
	}
	s.Wait()
	if gw.postCalls != 0 {
		t.Fatalf("expected no gateway calls, got %d", gw.postCalls)
	}
}

func TestSendMessageFailureAndRetry(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	gw.postErr = errors.New("gateway down")
	clientID := s.SendMessage(context.Background(), "conv-1", "hey", "")
	s.Wait()

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 || msgs[0].Status != StatusFailed {
		t.Fatalf("expected one failed message, got %+v", msgs)
	}

	gw.mu.Lock()
	gw.postErr = nil
	gw.mu.Unlock()

	s.RetryMessage(context.Background(), "conv-1", clientID)
	s.Wait()

	msgs = s.Messages("conv-1")
	if len(msgs) != 1 || msgs[0].Status != StatusConfirmed {
		t.Fatalf("expected one confirmed message after retry, got %+v", msgs)
	}
}

func TestDiscardFailedMessage(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	gw.postErr = errors.New("gateway down")
	clientID := s.SendMessage(context.Background(), "conv-1", "hey", "")
	s.Wait()

	s.DiscardMessage("conv-1", clientID)
	if msgs := s.Messages("conv-1"); len(msgs) != 0 {
		t.Fatalf("expected empty cache after discard, got %d entries", len(msgs))
	}
}

func TestHandleEventDedupByClientID(t *testing.T) {
	gw := newFakeGateway()
	s, feed := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	clientID := s.SendMessage(context.Background(), "conv-1", "hey", "")
	s.Wait()

	stored := s.Messages("conv-1")[0].Message

	// Echo arrives over the feed after confirmation: no duplicate
	feed.deliver(&Event{Type: EventMessageInsert, ConversationID: "conv-1", Message: &stored})

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after echo, got %d", len(msgs))
	}
	if msgs[0].ClientID != clientID {
		t.Fatalf("unexpected surviving entry: %+v", msgs[0])
	}
}

func TestHandleEventEchoBeforeConfirm(t *testing.T) {
	gw := newFakeGateway()
	s, feed := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	// Simulate the feed racing ahead of the HTTP confirmation
	gw.postErr = errors.New("slow")
	clientID := s.SendMessage(context.Background(), "conv-1", "hey", "")
	s.Wait()

	echo := Message{
		ID:             "01JECHO0000000000000000000",
		ClientID:       clientID,
		ConversationID: "conv-1",
		From:           "user-self",
		Body:           "hey",
		Timestamp:      time.Now().UnixMilli(),
	}
	feed.deliver(&Event{Type: EventMessageInsert, ConversationID: "conv-1", Message: &echo})

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Status != StatusConfirmed || msgs[0].ID != echo.ID {
		t.Fatalf("echo did not resolve the local entry: %+v", msgs[0])
	}
}

func TestHandleEventCacheIsolation(t *testing.T) {
	gw := newFakeGateway()
	s, feed := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	incoming := Message{
		ID:             "01JOTHER000000000000000000",
		ConversationID: "conv-2",
		From:           "user-other",
		Body:           "yo",
		Timestamp:      time.Now().UnixMilli(),
	}
	feed.deliver(&Event{Type: EventMessageInsert, ConversationID: "conv-2", Message: &incoming})

	// conv-2 history was never loaded: no cache is created for it
	if msgs := s.Messages("conv-2"); len(msgs) != 0 {
		t.Fatalf("expected no cache for unloaded conversation, got %d entries", len(msgs))
	}
	if msgs := s.Messages("conv-1"); len(msgs) != 0 {
		t.Fatalf("event leaked into the wrong cache: %d entries", len(msgs))
	}
}

func TestHandleEventBumpsConversation(t *testing.T) {
	gw := newFakeGateway()
	gw.conversations = []ConversationView{
		{ID: "conv-1", Counterpart: Profile{ID: "a"}, LastActivity: time.Now()},
		{ID: "conv-2", Counterpart: Profile{ID: "b"}, LastActivity: time.Now().Add(-time.Hour)},
	}
	s, feed := newTestSession(t, gw)
	s.LoadConversations(context.Background())
	s.SetActiveConversation("conv-1")

	incoming := Message{
		ID:             "01JBUMP0000000000000000000",
		ConversationID: "conv-2",
		From:           "b",
		Body:           "new beat for you",
		Timestamp:      time.Now().UnixMilli(),
	}
	feed.deliver(&Event{Type: EventMessageInsert, ConversationID: "conv-2", Message: &incoming})

	convs := s.Conversations()
	if convs[0].ID != "conv-2" {
		t.Fatalf("expected conv-2 first, got %q", convs[0].ID)
	}
	if convs[0].LastMessage != "new beat for you" {
		t.Fatalf("preview not updated: %q", convs[0].LastMessage)
	}
	if convs[0].Unread != 1 {
		t.Fatalf("expected unread 1, got %d", convs[0].Unread)
	}
}

func TestUnreadNotBumpedForActiveConversation(t *testing.T) {
	gw := newFakeGateway()
	gw.conversations = []ConversationView{
		{ID: "conv-1", Counterpart: Profile{ID: "a"}, LastActivity: time.Now()},
	}
	s, feed := newTestSession(t, gw)
	s.LoadConversations(context.Background())
	s.SetActiveConversation("conv-1")

	incoming := Message{
		ID:             "01JACTV0000000000000000000",
		ConversationID: "conv-1",
		From:           "a",
		Body:           "hi",
		Timestamp:      time.Now().UnixMilli(),
	}
	feed.deliver(&Event{Type: EventMessageInsert, ConversationID: "conv-1", Message: &incoming})

	if convs := s.Conversations(); convs[0].Unread != 0 {
		t.Fatalf("active conversation accrued unread: %d", convs[0].Unread)
	}
}

func TestLoadConversationsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.conversations = []ConversationView{
		{ID: "conv-1", Counterpart: Profile{ID: "a"}},
	}
	s, _ := newTestSession(t, gw)

	s.LoadConversations(context.Background())
	s.LoadConversations(context.Background())

	if convs := s.Conversations(); len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
}

func TestLoadConversationsErrorResets(t *testing.T) {
	gw := newFakeGateway()
	gw.conversations = []ConversationView{
		{ID: "conv-1", Counterpart: Profile{ID: "a"}},
	}
	s, _ := newTestSession(t, gw)
	s.LoadConversations(context.Background())

	gw.mu.Lock()
	gw.listErr = errors.New("gateway down")
	gw.mu.Unlock()
	s.LoadConversations(context.Background())

	if convs := s.Conversations(); len(convs) != 0 {
		t.Fatalf("expected empty list after failure, got %d", len(convs))
	}
}

func TestLoadMessagesPreservesPending(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)
	s.LoadMessages(context.Background(), "conv-1")

	gw.postErr = errors.New("gateway down")
	clientID := s.SendMessage(context.Background(), "conv-1", "hey", "")
	s.Wait()

	s.LoadMessages(context.Background(), "conv-1")

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 || msgs[0].ClientID != clientID || msgs[0].Status != StatusFailed {
		t.Fatalf("failed entry lost across reload: %+v", msgs)
	}
}

func TestLoadOlderMessagesPrepends(t *testing.T) {
	gw := newFakeGateway()
	for i := 0; i < 120; i++ {
		gw.messages["conv-1"] = append(gw.messages["conv-1"], Message{
			ID:             gw.mintID(),
			ConversationID: "conv-1",
			From:           "a",
			Body:           fmt.Sprintf("m%d", i),
			Timestamp:      int64(i),
		})
	}
	s, _ := newTestSession(t, gw)

	s.LoadMessages(context.Background(), "conv-1")
	if !s.HasMoreHistory("conv-1") {
		t.Fatal("expected more history")
	}
	if got := len(s.Messages("conv-1")); got != 50 {
		t.Fatalf("expected 50 messages, got %d", got)
	}

	s.LoadOlderMessages(context.Background(), "conv-1")
	msgs := s.Messages("conv-1")
	if len(msgs) != 100 {
		t.Fatalf("expected 100 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "m20" {
		t.Fatalf("unexpected oldest message %q", msgs[0].Body)
	}
	// Still ascending
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp < msgs[i-1].Timestamp {
			t.Fatalf("out of order at %d", i)
		}
	}
}

func TestStartNewChatIdempotent(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)

	target := Profile{ID: "user-b", Nickname: "beatsmith"}
	first, err := s.StartNewChat(context.Background(), target)
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}
	second, err := s.StartNewChat(context.Background(), target)
	if err != nil {
		t.Fatalf("start chat again: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("expected the same conversation, got %q and %q", first, second)
	}
	if s.ActiveConversation() != first {
		t.Fatalf("conversation not activated: %q", s.ActiveConversation())
	}
}

func TestStartNewChatSelfNoop(t *testing.T) {
	gw := newFakeGateway()
	s, _ := newTestSession(t, gw)

	id, err := s.StartNewChat(context.Background(), Profile{ID: "user-self"})
	if err != nil {
		t.Fatalf("self chat returned error: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no-op, got %q", id)
	}
	if gw.createCalls != 0 {
		t.Fatalf("expected no gateway call, got %d", gw.createCalls)
	}
}

func TestSetActiveClearsReplyTarget(t *testing.T) {
	gw := newFakeGateway()
	gw.messages["conv-1"] = []Message{{ID: "01JMSG00000000000000000000", ConversationID: "conv-1", Body: "hi"}}
	s, _ := newTestSession(t, gw)
	s.SetActiveConversation("conv-1")
	s.LoadMessages(context.Background(), "conv-1")

	s.SetReplyTarget("01JMSG00000000000000000000")
	if _, ok := s.ReplyTarget(); !ok {
		t.Fatal("reply target not staged")
	}

	s.SetActiveConversation("conv-2")
	if _, ok := s.ReplyTarget(); ok {
		t.Fatal("reply target survived conversation switch")
	}
}

func TestSearchUsersDegrades(t *testing.T) {
	gw := newFakeGateway()
	gw.listErr = errors.New("gateway down")
	s, _ := newTestSession(t, gw)

	if got := s.SearchUsers(context.Background(), "beat"); got != nil {
		t.Fatalf("expected nil on failure, got %v", got)
	}
	if got := s.SearchUsers(context.Background(), ""); got != nil {
		t.Fatalf("expected nil for empty query, got %v", got)
	}
}

func TestCloseStopsFeedAndClearsState(t *testing.T) {
	gw := newFakeGateway()
	gw.conversations = []ConversationView{{ID: "conv-1", Counterpart: Profile{ID: "a"}}}
	feed := &fakeFeed{}
	s := NewSession(Profile{ID: "user-self"}, gw, feed, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	s.LoadConversations(context.Background())

	s.Close()

	feed.mu.Lock()
	stopped := feed.stopped
	feed.mu.Unlock()
	if !stopped {
		t.Fatal("feed subscription not stopped")
	}
	if convs := s.Conversations(); len(convs) != 0 {
		t.Fatalf("state not cleared: %d conversations", len(convs))
	}
	if id := s.SendMessage(context.Background(), "conv-1", "late", ""); id != "" {
		t.Fatalf("send after close should no-op, got %q", id)
	}
}
