// Package overflowstore implements mailbox.OverflowStore, the optional audit
// trail for incoming messages an overflow policy refused (entries evicted
// to make room for a new message are not passed to the store). It never
// changes delivery-order guarantees; it exists purely so an operator can
// inspect or replay what was shed under load.
package overflowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhema-dev/coordination/model"
)

// Record is one persisted drop event.
type Record struct {
	RecipientID string    `json:"recipient_id"`
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"`
	Reason      string    `json:"reason"`
	DroppedAt   time.Time `json:"dropped_at"`
	Payload     []byte    `json:"payload"`
}

// Redis is a Redis-backed OverflowStore using the same key-prefixing
// convention as this codebase's other Redis-backed stores. Suitable for
// inspecting drops across coordinator restarts within the retention
// window; it is not a durable session replay mechanism.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// Config configures the Redis overflow store's connection and retention.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
}

// New connects to Redis and returns a Redis-backed overflow store.
func New(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "coordination:overflow:"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &Redis{client: client, keyPrefix: prefix, retention: retention}, nil
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(recipientID string) string {
	return r.keyPrefix + recipientID
}

// RecordDropped appends a drop event to recipientID's overflow log, capped
// at the store's retention window via Redis key expiry.
func (r *Redis) RecordDropped(ctx context.Context, recipientID string, msg *model.Message, reason string) error {
	rec := Record{
		RecipientID: recipientID,
		MessageID:   msg.ID,
		Sender:      msg.Sender,
		Reason:      reason,
		DroppedAt:   time.Now().UTC(),
		Payload:     msg.Payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dropped record: %w", err)
	}

	key := r.key(recipientID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, r.retention)
	_, err = pipe.Exec(ctx)
	return err
}

// Replay returns every recorded drop for recipientID, oldest first.
func (r *Redis) Replay(ctx context.Context, recipientID string) ([]Record, error) {
	raw, err := r.client.LRange(ctx, r.key(recipientID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("replay dropped records: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal dropped record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
