package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceCache mirrors presence records into Redis hashes so roster
// collaborators can read them without hitting the primary store.
type PresenceCache struct {
	client *redis.Client
	prefix string
}

func NewPresenceCache(client *redis.Client, prefix string) *PresenceCache {
	return &PresenceCache{client: client, prefix: prefix}
}

func (c *PresenceCache) key(identityID string) string {
	return c.prefix + "user:" + identityID
}

func (c *PresenceCache) Set(ctx context.Context, identityID string, rec PresenceRecord) error {
	err := c.client.HSet(ctx, c.key(identityID),
		"status", string(rec.Status),
		"last_seen", rec.LastSeen.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("HSet: %w", err)
	}
	return nil
}

// Get returns the cached record and whether it was present.
func (c *PresenceCache) Get(ctx context.Context, identityID string) (PresenceRecord, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.key(identityID)).Result()
	if err != nil {
		return PresenceRecord{}, false, fmt.Errorf("HGetAll: %w", err)
	}
	if len(fields) == 0 {
		return PresenceRecord{}, false, nil
	}
	rec := PresenceRecord{Status: Status(fields["status"])}
	if raw, ok := fields["last_seen"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.LastSeen = ts
		}
	}
	return rec, true, nil
}

func (c *PresenceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PresenceCache) Close() error {
	return c.client.Close()
}
