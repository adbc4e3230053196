package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedReader is a read-through Redis cache in front of another Reader.
// Checkout resolves the same hot products over and over; snapshots change
// rarely, so a short TTL is enough. Cache failures degrade to the inner
// reader and are only logged.
type CachedReader struct {
	next   Reader
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedReader(next Reader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedReader {
	return &CachedReader{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *CachedReader) Snapshot(ctx context.Context, productID string) (*Snapshot, error) {
	key := "catalog:snapshot:" + productID

	cached, err := r.client.Get(ctx, key).Result()
	if err == nil {
		snap := &Snapshot{}
		if err := json.Unmarshal([]byte(cached), snap); err == nil {
			return snap, nil
		}
		r.logger.Warn("dropping undecodable cached snapshot", "product_id", productID)
	} else if err != redis.Nil {
		r.logger.Warn("snapshot cache read failed", "error", err, "product_id", productID)
	}

	snap, err := r.next.Snapshot(ctx, productID)
	if err != nil || snap == nil {
		return snap, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("snapshot cache write failed", "error", err, "product_id", productID)
		}
	}

	return snap, nil
}
