package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/beatmart/chatsync/internal/models"
)

const (
	streamName    = "CHAT_EVENTS"
	subjectPrefix = "chat.msg"
)

// NatsBus is a Bus backed by NATS JetStream. Events are published on
// per-conversation subjects under a single file-backed stream.
type NatsBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

// NewNatsBus connects to NATS and ensures the event stream exists.
func NewNatsBus(natsURL string, logger zerolog.Logger) (*NatsBus, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.Stream(ctx, streamName)
	if err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        streamName,
			Description: "Chat message events",
			Subjects:    []string{subjectPrefix + ".*"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %q: %w", streamName, err)
		}
		logger.Info().Str("stream", streamName).Msg("created event stream")
	}

	return &NatsBus{nc: nc, js: js, logger: logger}, nil
}

// subject returns the NATS subject for a conversation.
func subject(conversationID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, conversationID)
}

// Publish sends the event to the conversation's subject.
func (b *NatsBus) Publish(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = b.js.Publish(ctx, subject(event.ConversationID.String()), data)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe consumes every chat event from now on with an ephemeral
// consumer. Delivery order follows publish order per conversation.
func (b *NatsBus) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	consumeCtx, err := cons.Consume(func(jsMsg jetstream.Msg) {
		var event models.Event
		if err := json.Unmarshal(jsMsg.Data(), &event); err != nil {
			b.logger.Warn().Err(err).Str("subject", jsMsg.Subject()).Msg("dropping malformed event")
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return &natsSubscription{consumeCtx: consumeCtx}, nil
}

// Close drains the NATS connection.
func (b *NatsBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

type natsSubscription struct {
	consumeCtx jetstream.ConsumeContext
}

func (s *natsSubscription) Unsubscribe() error {
	s.consumeCtx.Stop()
	return nil
}
