package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/beatmart/chatsync/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatsync.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatsync.db"
	}

	if dbPath != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Every pool connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		nickname TEXT UNIQUE NOT NULL,
		avatar_url TEXT DEFAULT '',
		is_producer INTEGER DEFAULT 0,
		is_verified INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		pair_key TEXT UNIQUE NOT NULL,
		last_message TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES profiles(id),
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		client_id TEXT DEFAULT '',
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		from_id TEXT NOT NULL,
		body TEXT DEFAULT '',
		reply_to_id TEXT DEFAULT '',
		has_attachment INTEGER DEFAULT 0,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_nickname ON profiles(nickname);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client
		ON messages(conversation_id, client_id) WHERE client_id <> '';
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateProfile creates a new profile record.
func (s *SQLiteStore) CreateProfile(ctx context.Context, nickname, avatarURL string) (*models.Profile, error) {
	id := models.NewRowID().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, nickname, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
	`, id, nickname, avatarURL, now)
	if err != nil {
		return nil, err
	}

	return s.GetProfile(ctx, uuid.MustParse(id))
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, nickname, avatar_url, is_producer, is_verified, created_at
		FROM profiles WHERE id = ?
	`, id.String()))
}

// GetProfileByNickname retrieves a profile by exact nickname.
func (s *SQLiteStore) GetProfileByNickname(ctx context.Context, nickname string) (*models.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, nickname, avatar_url, is_producer, is_verified, created_at
		FROM profiles WHERE nickname = ?
	`, nickname))
}

func (s *SQLiteStore) scanProfile(row *sql.Row) (*models.Profile, error) {
	profile := &models.Profile{}
	var idStr string
	var producerInt, verifiedInt int

	err := row.Scan(
		&idStr,
		&profile.Nickname,
		&profile.AvatarURL,
		&producerInt,
		&verifiedInt,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	profile.ID = uuid.MustParse(idStr)
	profile.IsProducer = producerInt == 1
	profile.IsVerified = verifiedInt == 1
	return profile, nil
}

// SearchProfiles retrieves profiles whose nickname contains the query,
// case-insensitive, excluding the caller.
func (s *SQLiteStore) SearchProfiles(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nickname, avatar_url, is_producer, is_verified, created_at
		FROM profiles
		WHERE nickname LIKE '%' || ? || '%' COLLATE NOCASE AND id != ?
		ORDER BY nickname
		LIMIT ?
	`, query, exclude.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var profile models.Profile
		var idStr string
		var producerInt, verifiedInt int

		err := rows.Scan(
			&idStr,
			&profile.Nickname,
			&profile.AvatarURL,
			&producerInt,
			&verifiedInt,
			&profile.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		profile.ID = uuid.MustParse(idStr)
		profile.IsProducer = producerInt == 1
		profile.IsVerified = verifiedInt == 1
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

// pairKey derives the canonical identity of a two-person conversation.
// Sorting the IDs makes the key independent of who starts the chat.
func pairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

// GetOrCreateConversation returns the conversation shared by exactly the
// two given users, creating it (with both participant links) when none
// exists. The second return value reports whether a row was created.
// The pair_key uniqueness constraint makes concurrent first contacts
// converge on one row.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	pair := pairKey(a, b)
	id := models.NewRowID().String()
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_at, last_active_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pair_key) DO NOTHING
	`, id, pair, now, now)
	if err != nil {
		return nil, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if inserted == 0 {
		// Someone else holds this pair; resolve their row
		conv, err := s.getConversationByPairKey(ctx, pair)
		return conv, false, err
	}

	for _, userID := range []uuid.UUID{a, b} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id) VALUES (?, ?)
		`, id, userID.String())
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	conv, err := s.getConversation(ctx, uuid.MustParse(id))
	return conv, true, err
}

func (s *SQLiteStore) getConversationByPairKey(ctx context.Context, pair string) (*models.Conversation, error) {
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM conversations WHERE pair_key = ?
	`, pair).Scan(&idStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.getConversation(ctx, uuid.MustParse(idStr))
}

func (s *SQLiteStore) getConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, last_message, created_at, last_active_at
		FROM conversations WHERE id = ?
	`, id.String()).Scan(
		&idStr,
		&conv.LastMessage,
		&conv.CreatedAt,
		&conv.LastActivity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	conv.ID = uuid.MustParse(idStr)
	return conv, nil
}

// ListConversations retrieves the caller's conversations with the
// counterpart profile resolved, most recent activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.last_message, c.last_active_at,
		       pr.id, pr.nickname, pr.avatar_url, pr.is_producer, pr.is_verified, pr.created_at
		FROM conversations c
		JOIN participants me ON me.conversation_id = c.id AND me.user_id = ?
		JOIN participants other ON other.conversation_id = c.id AND other.user_id != ?
		JOIN profiles pr ON pr.id = other.user_id
		ORDER BY c.last_active_at DESC
	`, userID.String(), userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []models.ConversationView
	for rows.Next() {
		var view models.ConversationView
		var convIDStr, profileIDStr string
		var producerInt, verifiedInt int

		err := rows.Scan(
			&convIDStr,
			&view.LastMessage,
			&view.LastActivity,
			&profileIDStr,
			&view.Counterpart.Nickname,
			&view.Counterpart.AvatarURL,
			&producerInt,
			&verifiedInt,
			&view.Counterpart.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		view.ID = uuid.MustParse(convIDStr)
		view.Counterpart.ID = uuid.MustParse(profileIDStr)
		view.Counterpart.IsProducer = producerInt == 1
		view.Counterpart.IsVerified = verifiedInt == 1
		views = append(views, view)
	}

	return views, rows.Err()
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID.String(), userID.String()).Scan(&n)
	return n > 0, err
}

// ParticipantIDs returns the user IDs in the conversation.
func (s *SQLiteStore) ParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM participants WHERE conversation_id = ?
	`, conversationID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		ids = append(ids, uuid.MustParse(idStr))
	}
	return ids, rows.Err()
}

// TouchConversation updates the denormalized preview and activity timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id uuid.UUID, preview string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_active_at = ?
		WHERE id = ?
	`, preview, time.Now(), id.String())
	return err
}

// InsertMessage stores a message. Inserts are idempotent per
// (conversation, client_id): replaying a client ID returns the original
// row with duplicated = true.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	if msg.ClientID != "" {
		existing, err := s.getMessageByClientID(ctx, msg.ConversationID, msg.ClientID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	attachmentInt := 0
	if msg.HasAttachment {
		attachmentInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, client_id, conversation_id, from_id, body, reply_to_id, has_attachment, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ClientID, msg.ConversationID.String(), msg.FromID.String(),
		msg.Body, msg.ReplyToID, attachmentInt, msg.Timestamp)
	if err != nil {
		return nil, false, err
	}

	stored, err := s.GetMessage(ctx, msg.ConversationID, msg.ID)
	return stored, false, err
}

func (s *SQLiteStore) getMessageByClientID(ctx context.Context, conversationID uuid.UUID, clientID string) (*models.Message, error) {
	var msgID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM messages WHERE conversation_id = ? AND client_id = ?
	`, conversationID.String(), clientID).Scan(&msgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.GetMessage(ctx, conversationID, msgID)
}

const messageSelect = `
	SELECT m.id, m.client_id, m.from_id, m.body, m.reply_to_id, m.has_attachment, m.ts,
	       p.id, p.from_id, p.body, pr.nickname
	FROM messages m
	LEFT JOIN messages p ON p.id = m.reply_to_id AND p.conversation_id = m.conversation_id
	LEFT JOIN profiles pr ON pr.id = p.from_id
`

// GetMessage retrieves a message by ID, with the reply snapshot resolved.
func (s *SQLiteStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+`
		WHERE m.conversation_id = ? AND m.id = ?
	`, conversationID.String(), messageID)

	msg, err := scanMessageRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.ConversationID = conversationID
	return msg, nil
}

// ListMessages retrieves one ascending page of a conversation's history.
// before, when non-empty, is an exclusive upper message ID bound. The
// second return value reports whether older messages remain.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before string) ([]models.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE m.conversation_id = ? AND (? = '' OR m.id < ?)
		ORDER BY m.id DESC
		LIMIT ?
	`, conversationID.String(), before, before, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, false, err
		}
		msg.ConversationID = conversationID
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	// Reverse into ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, hasMore, nil
}

// CountMessagesAfter counts messages with an ID greater than afterID not
// sent by excludeSender. An empty afterID counts the whole history.
func (s *SQLiteStore) CountMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, excludeSender uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND (? = '' OR id > ?) AND from_id != ?
	`, conversationID.String(), afterID, afterID, excludeSender.String()).Scan(&count)
	return count, err
}

// scanMessageRow scans a messageSelect row into a Message.
func scanMessageRow(scan func(dest ...any) error) (*models.Message, error) {
	msg := &models.Message{}
	var fromIDStr string
	var attachmentInt int
	var parentID, parentFrom, parentBody, parentNickname *string

	err := scan(
		&msg.ID,
		&msg.ClientID,
		&fromIDStr,
		&msg.Body,
		&msg.ReplyToID,
		&attachmentInt,
		&msg.Timestamp,
		&parentID,
		&parentFrom,
		&parentBody,
		&parentNickname,
	)
	if err != nil {
		return nil, err
	}

	msg.FromID = uuid.MustParse(fromIDStr)
	msg.HasAttachment = attachmentInt == 1
	if parentID != nil {
		snapshot := &models.ReplySnapshot{
			MessageID: *parentID,
			SenderID:  uuid.MustParse(*parentFrom),
			Body:      *parentBody,
		}
		if parentNickname != nil {
			snapshot.SenderNickname = *parentNickname
		}
		msg.Reply = snapshot
	}
	return msg, nil
}
