package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channels shared between service instances and clients.
const (
	AuthChannel    = "auth-events"
	CartChannel    = "cart-events"
	StorageChannel = "storage-events"
)

// AuthEvent is emitted on login and logout.
type AuthEvent struct {
	Name      string `json:"name"` // "user-loggedin" or "user-loggedout"
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// Broker publishes JSON messages to redis channels and listens on them.
type Broker struct {
	conn *redis.Client
	log  *zap.Logger
}

func NewBroker(conn *redis.Client, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{conn: conn, log: log}
}

// Emit publishes content to channel.
func (b *Broker) Emit(ctx context.Context, channel string, content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", channel, err)
	}
	if err := b.conn.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	b.log.Debug("event published", zap.String("channel", channel))
	return nil
}

// EmitAuth publishes an AuthEvent.
func (b *Broker) EmitAuth(ctx context.Context, name, userID string) error {
	return b.Emit(ctx, AuthChannel, AuthEvent{Name: name, UserID: userID, Timestamp: time.Now().Unix()})
}

// Listen calls handle for every payload on channel until ctx ends.
func (b *Broker) Listen(ctx context.Context, channel string, handle func(payload []byte)) error {
	sub := b.conn.Subscribe(ctx, channel)
	defer sub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.log.Info("listening", zap.String("channel", channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}
