package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "foodgate:docs:snapshot:"

// SnapshotStore keeps the last successfully fetched raw description of each
// upstream so a restart can still document a service that is down.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *SnapshotStore) Save(ctx context.Context, service string, raw []byte) error {
	if err := s.client.Set(ctx, snapshotKey(service), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", service, err)
	}
	return nil
}

// Load returns the stored snapshot. The boolean is false when none exists.
func (s *SnapshotStore) Load(ctx context.Context, service string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, snapshotKey(service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load snapshot for %s: %w", service, err)
	}
	return raw, true, nil
}

func snapshotKey(service string) string {
	return snapshotKeyPrefix + service
}
