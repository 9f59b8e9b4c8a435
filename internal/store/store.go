package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/beatmart/chatsync/internal/models"
)

// DataStore defines the interface for persistent storage of profiles,
// conversations and messages. Both PostgresStore and SQLiteStore
// implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Profile operations
	CreateProfile(ctx context.Context, nickname, avatarURL string) (*models.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfileByNickname(ctx context.Context, nickname string) (*models.Profile, error)
	SearchProfiles(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]models.Profile, error)

	// Conversation operations
	GetOrCreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationView, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	TouchConversation(ctx context.Context, id uuid.UUID, preview string) error

	// Message operations
	InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error)
	GetMessage(ctx context.Context, conversationID uuid.UUID, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before string) ([]models.Message, bool, error)
	CountMessagesAfter(ctx context.Context, conversationID uuid.UUID, afterID string, excludeSender uuid.UUID) (int64, error)
}
