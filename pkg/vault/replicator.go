package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "vault_sync"

// Syncer applies a full document set. Local and RedisReplicator satisfy it.
type Syncer interface {
	Sync(ctx context.Context, docs []store.Document) (SyncResult, error)
}

type localSyncer struct{ cache *Cache }

// Local wraps c as a Syncer with no replication.
func Local(c *Cache) Syncer {
	return localSyncer{cache: c}
}

func (l localSyncer) Sync(_ context.Context, docs []store.Document) (SyncResult, error) {
	return l.cache.Sync(docs), nil
}

type syncMessage struct {
	Origin    string           `json:"origin"`
	Documents []store.Document `json:"documents"`
}

// RedisReplicator applies syncs locally and fans them out to other daemon instances over a
// Redis pub/sub channel. Messages from this instance are ignored on receipt.
type RedisReplicator struct {
	cache      *Cache
	rdb        *redis.Client
	channel    string
	instanceID string
	logger     logger.ILogger
}

func NewRedisReplicator(cache *Cache, rdb *redis.Client, log logger.ILogger) *RedisReplicator {
	return &RedisReplicator{
		cache:      cache,
		rdb:        rdb,
		channel:    DefaultChannel,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

func (r *RedisReplicator) InstanceID() string { return r.instanceID }

func (r *RedisReplicator) Sync(ctx context.Context, docs []store.Document) (SyncResult, error) {
	res := r.cache.Sync(docs)

	payload, err := json.Marshal(syncMessage{Origin: r.instanceID, Documents: docs})
	if err != nil {
		return res, fmt.Errorf("encode vault sync: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("Vault", "Failed to publish vault sync", map[string]interface{}{"error": err.Error()})
		return res, fmt.Errorf("publish vault sync: %w", err)
	}
	return res, nil
}

// Run applies syncs published by other instances until ctx is done.
func (r *RedisReplicator) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("Vault", "Replication subscriber started", map[string]interface{}{
		"channel":     r.channel,
		"instance_id": r.instanceID,
	})

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.apply(msg.Payload)
		}
	}
}

func (r *RedisReplicator) apply(payload string) {
	var m syncMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.logger.Warn("Vault", "Dropping unreadable vault sync", map[string]interface{}{"error": err.Error()})
		return
	}
	if m.Origin == r.instanceID {
		return
	}

	res := r.cache.Sync(m.Documents)
	r.logger.Info("Vault", "Applied remote vault sync", map[string]interface{}{
		"origin": m.Origin,
		"count":  res.Count,
	})
}
