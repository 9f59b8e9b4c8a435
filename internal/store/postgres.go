package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/beatmart/chatsync/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		nickname TEXT UNIQUE NOT NULL,
		avatar_url TEXT DEFAULT '',
		is_producer BOOLEAN DEFAULT FALSE,
		is_verified BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		pair_key TEXT UNIQUE NOT NULL,
		last_message TEXT DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_active_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES profiles(id),
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		client_id TEXT DEFAULT '',
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		from_id UUID NOT NULL,
		body TEXT DEFAULT '',
		reply_to_id TEXT DEFAULT '',
		has_attachment BOOLEAN DEFAULT FALSE,
		ts BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client
		ON messages(conversation_id, client_id) WHERE client_id <> '';
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateProfile creates a new profile record.
func (s *PostgresStore) CreateProfile(ctx context.Context, nickname, avatarURL string) (*models.Profile, error) {
	profile := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (nickname, avatar_url)
		VALUES ($1, $2)
		RETURNING id, nickname, avatar_url, is_producer, is_verified, created_at
	`, nickname, avatarURL).Scan(
		&profile.ID,
		&profile.Nickname,
		&profile.AvatarURL,
		&profile.IsProducer,
		&profile.IsVerified,
		&profile.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfile retrieves a profile by ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, nickname, avatar_url, is_producer, is_verified, created_at
		FROM profiles WHERE id = $1
	`, id).Scan(
		&profile.ID,
		&profile.Nickname,
		&profile.AvatarURL,
		&profile.IsProducer,
		&profile.IsVerified,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

// GetProfileByNickname retrieves a profile by exact nickname.
func (s *PostgresStore) GetProfileByNickname(ctx context.Context, nickname string) (*models.Profile, error) {
	profile := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, nickname, avatar_url, is_producer, is_verified, created_at
		FROM profiles WHERE nickname = $1
	`, nickname).Scan(
		&profile.ID,
		&profile.Nickname,
		&profile.AvatarURL,
		&profile.IsProducer,
		&profile.IsVerified,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

// SearchProfiles retrieves profiles whose nickname contains the query,
// case-insensitive, excluding the caller.
func (s *PostgresStore) SearchProfiles(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]models.Profile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, nickname, avatar_url, is_producer, is_verified, created_at
		FROM profiles
		WHERE nickname ILIKE '%' || $1 || '%' AND id != $2
		ORDER BY nickname
		LIMIT $3
	`, query, exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var profile models.Profile
		err := rows.Scan(
			&profile.ID,
			&profile.Nickname,
			&profile.AvatarURL,
			&profile.IsProducer,
			&profile.IsVerified,
			&profile.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

// GetOrCreateConversation returns the conversation shared by exactly the
// two given users, creating it when none exists. The pair_key
// uniqueness constraint makes concurrent first contacts converge on
// one row.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	pair := pairKey(a, b)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	conv := &models.Conversation{}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (pair_key) VALUES ($1)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id, last_message, created_at, last_active_at
	`, pair).Scan(
		&conv.ID,
		&conv.LastMessage,
		&conv.CreatedAt,
		&conv.LastActivity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Someone else holds this pair; resolve their row
		err = s.pool.QueryRow(ctx, `
			SELECT id, last_message, created_at, last_active_at
			FROM conversations WHERE pair_key = $1
		`, pair).Scan(
			&conv.ID,
			&conv.LastMessage,
			&conv.CreatedAt,
			&conv.LastActivity,
		)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	for _, userID := range []uuid.UUID{a, b} {
		_, err = tx.Exec(ctx, `
			INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)
		`, conv.ID, userID)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// ListConversations retrieves the caller's conversations with the
// counterpart profile resolved, most recent activity first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.last_message, c.last_active_at,
		       pr.id, pr.nickname, pr.avatar_url, pr.is_producer, pr.is_verified, pr.created_at
		FROM conversations c
		JOIN participants me ON me.conversation_id = c.id AND me.user_id = $1
		JOIN participants other ON other.conversation_id = c.id AND other.user_id != $1
		JOIN profiles pr ON pr.id = other.user_id
		ORDER BY c.last_active_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []models.ConversationView
	for rows.Next() {
		var view models.ConversationView
		err := rows.Scan(
			&view.ID,
			&view.LastMessage,
			&view.LastActivity,
			&view.Counterpart.ID,
			&view.Counterpart.Nickname,
			&view.Counterpart.AvatarURL,
			&view.Counterpart.IsProducer,
			&view.Counterpart.IsVerified,
			&view.Counterpart.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}

	return views, rows.Err()
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM participants WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&n)
	return n > 0, err
}

// ParticipantIDs returns the user IDs in the conversation.
func (s *PostgresStore) ParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM participants WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TouchConversation updates the denormalized preview and activity timestamp.
func (s *PostgresStore) TouchConversation(ctx context.Context, id uuid.UUID, preview string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message = $1, last_active_at = NOW()
		WHERE id = $2
	`, preview, id)
	return err
}

// InsertMessage stores a message. Inserts are idempotent per
// (conversation, client_id).
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, client_id, conversation_id, from_id, body, reply_to_id, has_attachment, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, client_id) WHERE client_id <> '' DO NOTHING
	`, msg.ID, msg.ClientID, msg.ConversationID, msg.FromID,
		msg.Body, msg.ReplyToID, msg.HasAttachment, msg.Timestamp)
	if err != nil {
		return nil, false, err
	}

	if tag.RowsAffected() == 0 {
		// Replay of a known client ID: return the original row
		var msgID string
		err := s.pool.QueryRow(ctx, `
			SELECT id FROM messages WHERE conversation_id = $1 AND client_id = $2
		`, msg.ConversationID, msg.ClientID).Scan(&msgID)
		if err != nil {
			return nil, false, err
		}
		stored, err := s.GetMessage(ctx, msg.ConversationID, msgID)
		return stored, true, err
	}

	stored, err := s.GetMessage(ctx, msg.ConversationID, msg.ID)
	return stored, false, err
}

const pgMessageSelect = `
	SELECT m.id, m.client_id, m.from_id, m.body, m.reply_to_id, m.has_attachment, m.ts,
	       p.id, p.from_id, p.body, pr.nickname
	FROM messages m
	LEFT JOIN messages p ON p.id = m.reply_to_id AND p.conversation_id = m.conversation_id
	LEFT JOIN profiles pr ON pr.id = p.from_id
`

// GetMessage retrieves a message by ID, with the reply snapshot resolved.
func (s *PostgresStore) GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, pgMessageSelect+`
		WHERE m.conversation_id = $1 AND m.id = $2
	`, conversationID, messageID)

	msg, err := scanPgMessage(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.ConversationID = conversationID
	return msg, nil
}

// ListMessages retrieves one ascending page of a conversation's history.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before string) ([]models.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, pgMessageSelect+`
		WHERE m.conversation_id = $1 AND ($2 = '' OR m.id < $2)
		ORDER BY m.id DESC
		LIMIT $3
	`, conversationID, before, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows.Scan)
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

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, hasMore, nil
}

// CountMessagesAfter counts messages with an ID greater than afterID not
// sent by excludeSender.
func (s *PostgresStore) CountMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, excludeSender uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND ($2 = '' OR id > $2) AND from_id != $3
	`, conversationID, afterID, excludeSender).Scan(&count)
	return count, err
}

// scanPgMessage scans a pgMessageSelect row into a Message.
func scanPgMessage(scan func(dest ...any) error) (*models.Message, error) {
	msg := &models.Message{}
	var parentID, parentFrom, parentBody, parentNickname *string

	err := scan(
		&msg.ID,
		&msg.ClientID,
		&msg.FromID,
		&msg.Body,
		&msg.ReplyToID,
		&msg.HasAttachment,
		&msg.Timestamp,
		&parentID,
		&parentFrom,
		&parentBody,
		&parentNickname,
	)
	if err != nil {
		return nil, err
	}

	if parentID != nil {
		snapshot := &models.ReplySnapshot{
			MessageID: *parentID,
			Body:      *parentBody,
		}
		snapshot.SenderID = uuid.MustParse(*parentFrom)
		if parentNickname != nil {
			snapshot.SenderNickname = *parentNickname
		}
		msg.Reply = snapshot
	}
	return msg, nil
}
