// Package redisarchive archives portfolio risk snapshots in Redis.
package redisarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/persistence"
)

const (
	latestKey = "cryptorisk:risk:latest"
	tickKey   = "cryptorisk:risk:%d"
)

// Archive stores the latest snapshot without expiry and each tick's snapshot
// under its unix timestamp with a TTL.
type Archive struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New wraps a client. ttl <= 0 keeps per-tick keys forever.
func New(client redis.Cmdable, ttl time.Duration) *Archive {
	if ttl < 0 {
		ttl = 0
	}
	return &Archive{client: client, ttl: ttl}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Archive, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return New(client, ttl), client, nil
}

// TickKey is the key a snapshot taken at ts is stored under.
func TickKey(ts time.Time) string {
	return fmt.Sprintf(tickKey, ts.Unix())
}

func (a *Archive) Archive(ctx context.Context, s risk.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal risk snapshot: %w", err)
	}
	if err := a.client.Set(ctx, latestKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store latest risk snapshot: %w", err)
	}
	if err := a.client.Set(ctx, TickKey(s.Timestamp), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store risk snapshot: %w", err)
	}
	return nil
}

func (a *Archive) Latest(ctx context.Context) (risk.Snapshot, error) {
	data, err := a.client.Get(ctx, latestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return risk.Snapshot{}, fmt.Errorf("risk snapshot: %w", persistence.ErrNotFound)
	}
	if err != nil {
		return risk.Snapshot{}, fmt.Errorf("failed to read latest risk snapshot: %w", err)
	}
	var s risk.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return risk.Snapshot{}, fmt.Errorf("failed to decode risk snapshot: %w", err)
	}
	return s, nil
}
