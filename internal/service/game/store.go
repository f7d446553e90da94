package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-board/internal/chess/session"
)

const (
	defaultSnapshotTTL = 24 * time.Hour
	maxWatchRetries    = 3
	snapshotIndexKey   = "chess:sessions"
)

// ErrStaleSnapshot means a newer snapshot of the session is already stored.
var ErrStaleSnapshot = errors.New("stored snapshot is newer")

// SnapshotStore persists live sessions so they survive a restart.
type SnapshotStore interface {
	Save(ctx context.Context, snap session.Snapshot) error
	Load(ctx context.Context, id string) (*session.Snapshot, error)
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// DialRedis opens a client for a redis:// or rediss:// URL and pings it.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func snapshotKey(id string) string { return "chess:session:" + strings.TrimSpace(id) }

// Save writes snap unless the stored copy has a higher version.
func (s *RedisStore) Save(ctx context.Context, snap session.Snapshot) error {
	raw, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := snapshotKey(snap.ID)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var stored session.Snapshot
				if jerr := json.Unmarshal(cur, &stored); jerr == nil && stored.Version > snap.Version {
					return ErrStaleSnapshot
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, s.ttl)
				pipe.SAdd(ctx, snapshotIndexKey, snap.ID)
				pipe.Expire(ctx, snapshotIndexKey, s.ttl)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
}

func (s *RedisStore) Load(ctx context.Context, id string) (*session.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, snapshotKey(id))
	pipe.SRem(ctx, snapshotIndexKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// IDs lists stored sessions, pruning index entries whose snapshot expired.
func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, snapshotIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.rdb.Exists(ctx, snapshotKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = s.rdb.SRem(ctx, snapshotIndexKey, id).Err()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
