package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSeqKey = "activity:seq"
	redisLogKey = "activity:log"
)

// RedisStore keeps the activity log in a Redis sorted set scored by log ID.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// OpenRedis parses a redis:// URL and returns a store backed by a new client.
func OpenRedis(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec, s.now); err != nil {
		return err
	}

	id, err := s.rdb.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("allocate log id: %w", err)
	}
	rec.ID = id

	serialized, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("could not serialize activity: %w", err)
	}

	z := redis.Z{
		Score:  float64(id),
		Member: serialized,
	}
	if err := s.rdb.ZAdd(ctx, redisLogKey, z).Err(); err != nil {
		return fmt.Errorf("failed to add activity to redis: %w", err)
	}
	return nil
}

// AppendBatch reserves the whole ID range with one INCRBY and writes every
// member in a single ZADD. A failed ZADD leaves a gap in the sequence.
func (s *RedisStore) AppendBatch(ctx context.Context, recs []Record) error {
	if err := prepareBatch(recs, s.now); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	last, err := s.rdb.IncrBy(ctx, redisSeqKey, int64(len(recs))).Result()
	if err != nil {
		return fmt.Errorf("allocate log ids: %w", err)
	}
	first := last - int64(len(recs)) + 1

	members := make([]redis.Z, len(recs))
	for i := range recs {
		rec := recs[i]
		rec.ID = first + int64(i)
		serialized, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("could not serialize activity: %w", err)
		}
		members[i] = redis.Z{Score: float64(rec.ID), Member: serialized}
	}
	if err := s.rdb.ZAdd(ctx, redisLogKey, members...).Err(); err != nil {
		return fmt.Errorf("failed to add activity batch to redis: %w", err)
	}

	for i := range recs {
		recs[i].ID = first + int64(i)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	raw, err := s.rdb.ZRange(ctx, redisLogKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("could not read activity log: %w", err)
	}

	result := make([]Record, 0, len(raw))
	for _, member := range raw {
		var r Record
		if err := json.Unmarshal([]byte(member), &r); err != nil {
			return nil, fmt.Errorf("could not unmarshal activity: %w", err)
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, redisLogKey, redisSeqKey).Err(); err != nil {
		return fmt.Errorf("clear activity log: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
