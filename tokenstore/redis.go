package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stopshop/events"
	"stopshop/mq"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StorageEvent announces a change made through a RedisStorage. NewValue is
// empty for removals.
type StorageEvent struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue"`
	Origin   string `json:"origin"`
}

// RedisStorage shares credentials between processes. Every write is
// announced on the storage channel so other processes can react to a login
// or logout made elsewhere.
type RedisStorage struct {
	conn   *redis.Client
	broker *mq.Broker
	prefix string
	origin string
	log    *zap.Logger
}

// NewRedisStorage namespaces keys under prefix, e.g. "stopshop:session:alice:".
func NewRedisStorage(conn *redis.Client, prefix string, log *zap.Logger) *RedisStorage {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStorage{
		conn:   conn,
		broker: mq.NewBroker(conn, log),
		prefix: prefix,
		origin: uuid.NewString(),
		log:    log,
	}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	v, err := r.conn.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	if err := r.conn.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	r.announce(ctx, key, value)
	return nil
}

func (r *RedisStorage) Remove(ctx context.Context, key string) error {
	n, err := r.conn.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	if n > 0 {
		r.announce(ctx, key, "")
	}
	return nil
}

func (r *RedisStorage) announce(ctx context.Context, key, value string) {
	ev := StorageEvent{Key: r.prefix + key, NewValue: value, Origin: r.origin}
	if err := r.broker.Emit(ctx, mq.StorageChannel, ev); err != nil {
		r.log.Warn("storage event not sent", zap.String("key", key), zap.Error(err))
	}
}

// Watch calls fn for every change to a key under this storage's prefix made
// by another process. It blocks until ctx ends.
func (r *RedisStorage) Watch(ctx context.Context, fn func(StorageEvent)) error {
	return r.broker.Listen(ctx, mq.StorageChannel, func(payload []byte) {
		var ev StorageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.log.Warn("bad storage event", zap.Error(err))
			return
		}
		if ev.Origin == r.origin || len(ev.Key) < len(r.prefix) || ev.Key[:len(r.prefix)] != r.prefix {
			return
		}
		ev.Key = ev.Key[len(r.prefix):]
		fn(ev)
	})
}

// Relay turns token changes made elsewhere into LoggedIn and LoggedOut
// events on bus. Only the primary "token" key counts, matching what a
// login writes.
func (r *RedisStorage) Relay(ctx context.Context, bus *events.Bus) error {
	return r.Watch(ctx, func(ev StorageEvent) {
		topic, ok := TopicFor(ev)
		if !ok {
			return
		}
		r.log.Info("session changed in another process", zap.String("topic", string(topic)))
		bus.Publish(events.Event{Topic: topic, Source: "storage"})
	})
}

// TopicFor maps a storage change to the auth transition it represents.
func TopicFor(ev StorageEvent) (events.Topic, bool) {
	switch ev.Key {
	case "token":
		if ev.NewValue == "" {
			return events.LoggedOut, true
		}
		return events.LoggedIn, true
	case "user":
		return events.ProfileUpdated, true
	}
	return "", false
}
