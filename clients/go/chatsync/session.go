package chatsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Status is the client-side delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// LocalMessage couples a wire message with its delivery state. Pending
// and failed entries exist only in this session; the ID field is empty
// until the gateway confirms the write.
type LocalMessage struct {
	Message
	Status     Status `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

// Gateway is the server surface the session synchronizes against. The
// HTTP Client implements it.
type Gateway interface {
	ListConversations(ctx context.Context) ([]ConversationView, error)
	CreateConversation(ctx context.Context, userID string) (Conversation, bool, error)
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]Message, bool, error)
	PostMessage(ctx context.Context, conversationID string, req PostMessageRequest) (*Message, error)
	MarkRead(ctx context.Context, conversationID, messageID string) error
	SearchUsers(ctx context.Context, query string) ([]Profile, error)
}

const messagePageSize = 50

// Session is the single source of truth for one user's chat state: the
// conversation list, per-conversation message caches, the active
// selection and the staged reply target. All reads and writes against
// the gateway flow through it, and it reconciles optimistic local
// state with confirmed and realtime-delivered data.
//
// A Session is constructed at sign-in, passed by reference to every UI
// surface, and torn down with Close at sign-out.
type Session struct {
	user   Profile
	gw     Gateway
	events EventSource
	logger zerolog.Logger

	mu            sync.Mutex
	conversations []ConversationView
	messages      map[string][]LocalMessage
	hasMore       map[string]bool
	activeID      string
	replyTargetID string
	stop          func()
	closed        bool

	sends sync.WaitGroup
}

// NewSession constructs a Session for the authenticated user.
func NewSession(user Profile, gw Gateway, events EventSource, logger zerolog.Logger) *Session {
	return &Session{
		user:     user,
		gw:       gw,
		events:   events,
		logger:   logger.With().Str("user_id", user.ID).Logger(),
		messages: make(map[string][]LocalMessage),
		hasMore:  make(map[string]bool),
	}
}

// Start opens the realtime subscription. One channel serves the whole
// session; events for every conversation arrive on it and are routed
// by conversation ID.
func (s *Session) Start(ctx context.Context) error {
	stop, err := s.events.Subscribe(ctx, s.HandleEvent)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return nil
}

// Close tears the session down: the subscription is stopped, in-flight
// sends are awaited, and all state is cleared.
func (s *Session) Close() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.closed = true
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.sends.Wait()

	s.mu.Lock()
	s.conversations = nil
	s.messages = make(map[string][]LocalMessage)
	s.hasMore = make(map[string]bool)
	s.activeID = ""
	s.replyTargetID = ""
	s.mu.Unlock()
}

// User returns the session's profile.
func (s *Session) User() Profile {
	return s.user
}

// LoadConversations replaces the conversation list from the gateway.
// Safe to call repeatedly (e.g. on reconnect). On error the list resets
// to empty; the failure is logged, not surfaced.
func (s *Session) LoadConversations(ctx context.Context) {
	views, err := s.gw.ListConversations(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("load conversations failed")
		views = nil
	}

	s.mu.Lock()
	s.conversations = views
	s.mu.Unlock()
}

// Conversations returns a copy of the conversation list, most recent
// activity first.
func (s *Session) Conversations() []ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationView, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// SetActiveConversation switches the active selection and clears any
// staged reply target; replies never cross conversations.
func (s *Session) SetActiveConversation(id string) {
	s.mu.Lock()
	s.activeID = id
	s.replyTargetID = ""
	s.mu.Unlock()
}

// ActiveConversation returns the currently open conversation ID.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetReplyTarget stages a message of the active conversation as the
// reply target. Unknown message IDs are ignored.
func (s *Session) SetReplyTarget(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[s.activeID] {
		if m.ID == messageID {
			s.replyTargetID = messageID
			return
		}
	}
}

// ClearReplyTarget drops the staged reply target.
func (s *Session) ClearReplyTarget() {
	s.mu.Lock()
	s.replyTargetID = ""
	s.mu.Unlock()
}

// ReplyTarget returns the staged reply target message ID, if any.
func (s *Session) ReplyTarget() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTargetID, s.replyTargetID != ""
}

// LoadMessages fetches the most recent page of the conversation's
// history and replaces that conversation's cache; other caches are
// untouched. Locally pending or failed entries survive the replace.
// On error the previous cache is kept and the failure logged.
func (s *Session) LoadMessages(ctx context.Context, conversationID string) {
	msgs, hasMore, err := s.gw.ListMessages(ctx, conversationID, messagePageSize, "")
	if err != nil {
		s.logger.Error().Err(err).
			Str("conversation_id", conversationID).
			Msg("load messages failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]LocalMessage, 0, len(msgs))
	for _, m := range msgs {
		fresh = append(fresh, LocalMessage{Message: m, Status: StatusConfirmed})
	}

	// Carry unconfirmed local entries over the replace
	known := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ClientID != "" {
			known[m.ClientID] = true
		}
	}
	for _, m := range s.messages[conversationID] {
		if m.Status != StatusConfirmed && !known[m.ClientID] {
			fresh = append(fresh, m)
		}
	}

	s.messages[conversationID] = fresh
	s.hasMore[conversationID] = hasMore
}

// LoadOlderMessages prepends the next page of history, cursored on the
// oldest confirmed message currently cached.
func (s *Session) LoadOlderMessages(ctx context.Context, conversationID string) {
	s.mu.Lock()
	cached := s.messages[conversationID]
	if !s.hasMore[conversationID] || len(cached) == 0 {
		s.mu.Unlock()
		return
	}
	before := ""
	for _, m := range cached {
		if m.Status == StatusConfirmed {
			before = m.ID
			break
		}
	}
	s.mu.Unlock()

	if before == "" {
		return
	}

	msgs, hasMore, err := s.gw.ListMessages(ctx, conversationID, messagePageSize, before)
	if err != nil {
		s.logger.Error().Err(err).
			Str("conversation_id", conversationID).
			Msg("load older messages failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := make([]LocalMessage, 0, len(msgs))
	for _, m := range msgs {
		page = append(page, LocalMessage{Message: m, Status: StatusConfirmed})
	}
	s.messages[conversationID] = append(page, s.messages[conversationID]...)
	s.hasMore[conversationID] = hasMore
}

// Messages returns a copy of the conversation's cached message list in
// ascending order.
func (s *Session) Messages(conversationID string) []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached := s.messages[conversationID]
	out := make([]LocalMessage, len(cached))
	copy(out, cached)
	return out
}

// HasMoreHistory reports whether older messages remain beyond the
// cached window.
func (s *Session) HasMoreHistory(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore[conversationID]
}

// SendMessage appends an optimistic pending entry and confirms it
// against the gateway in the background. The pending entry is visible
// immediately; the returned client ID correlates it with the eventual
// authoritative row. No-ops (returning "") when both the body and the
// reply target are empty.
func (s *Session) SendMessage(ctx context.Context, conversationID, body, replyToID string) string {
	if body == "" && replyToID == "" {
		return ""
	}

	clientID := ulid.Make().String()
	pending := LocalMessage{
		Message: Message{
			ClientID:       clientID,
			ConversationID: conversationID,
			From:           s.user.ID,
			Body:           body,
			ReplyToID:      replyToID,
			Timestamp:      time.Now().UnixMilli(),
		},
		Status: StatusPending,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	s.messages[conversationID] = append(s.messages[conversationID], pending)
	if s.replyTargetID == replyToID {
		s.replyTargetID = ""
	}
	s.mu.Unlock()

	s.confirmAsync(ctx, conversationID, clientID, PostMessageRequest{
		Body:      body,
		ReplyToID: replyToID,
		ClientID:  clientID,
	})

	return clientID
}

// RetryMessage re-issues a failed send. The client ID is reused, so the
// gateway deduplicates if the original write did land.
func (s *Session) RetryMessage(ctx context.Context, conversationID, clientID string) {
	s.mu.Lock()
	var req PostMessageRequest
	found := false
	cached := s.messages[conversationID]
	for i := range cached {
		if cached[i].ClientID == clientID && cached[i].Status == StatusFailed {
			cached[i].Status = StatusPending
			cached[i].FailReason = ""
			req = PostMessageRequest{
				Body:      cached[i].Body,
				ReplyToID: cached[i].ReplyToID,
				ClientID:  clientID,
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.confirmAsync(ctx, conversationID, clientID, req)
	}
}

// DiscardMessage drops a failed entry from the cache.
func (s *Session) DiscardMessage(conversationID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached := s.messages[conversationID]
	for i := range cached {
		if cached[i].ClientID == clientID && cached[i].Status == StatusFailed {
			s.messages[conversationID] = append(cached[:i:i], cached[i+1:]...)
			return
		}
	}
}

// Wait blocks until every in-flight send has resolved. Intended for
// tests and shutdown paths.
func (s *Session) Wait() {
	s.sends.Wait()
}

func (s *Session) confirmAsync(ctx context.Context, conversationID, clientID string, req PostMessageRequest) {
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()

		stored, err := s.gw.PostMessage(ctx, conversationID, req)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("conversation_id", conversationID).
				Str("client_id", clientID).
				Msg("send failed")
			s.markFailed(conversationID, clientID, err.Error())
			return
		}
		s.confirm(conversationID, clientID, stored)
	}()
}

// confirm replaces the pending entry matching the client ID with the
// authoritative row and bumps the owning conversation.
func (s *Session) confirm(conversationID, clientID string, stored *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached := s.messages[conversationID]
	replaced := false
	for i := range cached {
		if cached[i].ClientID == clientID {
			cached[i] = LocalMessage{Message: *stored, Status: StatusConfirmed}
			replaced = true
			break
		}
	}
	if !replaced {
		// The feed may already have delivered it under the server ID
		for i := range cached {
			if cached[i].ID == stored.ID {
				replaced = true
				break
			}
		}
	}
	if !replaced {
		s.messages[conversationID] = append(cached, LocalMessage{Message: *stored, Status: StatusConfirmed})
	}

	s.bumpConversation(conversationID, stored)
}

func (s *Session) markFailed(conversationID, clientID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached := s.messages[conversationID]
	for i := range cached {
		if cached[i].ClientID == clientID && cached[i].Status == StatusPending {
			cached[i].Status = StatusFailed
			cached[i].FailReason = reason
			return
		}
	}
}

// HandleEvent consumes one realtime insert notification. The message is
// appended to its conversation's cache when that history is loaded,
// unless an entry with the same server ID or client ID is already
// present (the sender's own echo). The owning conversation's preview
// and position update regardless of the active selection.
func (s *Session) HandleEvent(event *Event) {
	if event == nil || event.Type != EventMessageInsert || event.Message == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID := event.ConversationID
	if cached, loaded := s.messages[conversationID]; loaded {
		duplicate := false
		for i := range cached {
			if cached[i].ID == event.Message.ID {
				duplicate = true
				break
			}
			if event.Message.ClientID != "" && cached[i].ClientID == event.Message.ClientID {
				// Own message echoed before the confirmation resolved
				cached[i] = LocalMessage{Message: *event.Message, Status: StatusConfirmed}
				duplicate = true
				break
			}
		}
		if !duplicate {
			s.messages[conversationID] = append(cached, LocalMessage{Message: *event.Message, Status: StatusConfirmed})
		}
	}

	s.bumpConversation(conversationID, event.Message)
}

// bumpConversation updates the preview and recency of the owning
// conversation and re-sorts the list. Callers hold the lock.
func (s *Session) bumpConversation(conversationID string, msg *Message) {
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].LastMessage = msg.Body
			s.conversations[i].LastActivity = time.UnixMilli(msg.Timestamp)
			if msg.From != s.user.ID && conversationID != s.activeID {
				s.conversations[i].Unread++
			}
			sort.SliceStable(s.conversations, func(a, b int) bool {
				return s.conversations[a].LastActivity.After(s.conversations[b].LastActivity)
			})
			return
		}
	}
}

// SearchUsers searches nicknames, excluding the session user. Failures
// degrade to an empty result. Debouncing is the caller's concern.
func (s *Session) SearchUsers(ctx context.Context, query string) []Profile {
	if query == "" {
		return nil
	}
	users, err := s.gw.SearchUsers(ctx, query)
	if err != nil {
		s.logger.Error().Err(err).Msg("user search failed")
		return nil
	}
	return users
}

// StartNewChat gets or creates the two-party conversation with the
// target, refreshes the conversation list when a row was created,
// activates the conversation, and returns its ID. Self-chat no-ops.
func (s *Session) StartNewChat(ctx context.Context, target Profile) (string, error) {
	if target.ID == s.user.ID {
		return "", nil
	}

	conv, created, err := s.gw.CreateConversation(ctx, target.ID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("target_id", target.ID).
			Msg("start chat failed")
		return "", err
	}

	if created {
		s.LoadConversations(ctx)
	}
	s.SetActiveConversation(conv.ID)
	return conv.ID, nil
}

// MarkRead reports the newest cached message of the conversation as
// read, resetting the local unread count. Fire-and-forget.
func (s *Session) MarkRead(ctx context.Context, conversationID string) {
	s.mu.Lock()
	cached := s.messages[conversationID]
	last := ""
	for i := len(cached) - 1; i >= 0; i-- {
		if cached[i].Status == StatusConfirmed {
			last = cached[i].ID
			break
		}
	}
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].Unread = 0
			break
		}
	}
	s.mu.Unlock()

	if last == "" {
		return
	}
	if err := s.gw.MarkRead(ctx, conversationID, last); err != nil {
		s.logger.Warn().Err(err).
			Str("conversation_id", conversationID).
			Msg("mark read failed")
	}
}
