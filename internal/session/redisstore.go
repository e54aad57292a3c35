package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/clubpulse/model"
)

const redisKeyPrefix = "clubpulse:session:"

// RedisStore keeps each record as one JSON value whose TTL slides forward on
// every write. Updates use WATCH/MULTI so a concurrent writer aborts the
// transaction.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

type redisRecord struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Version   int64           `json:"version"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func redisKey(id string) string { return redisKeyPrefix + id }

// Create persists a new record.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	now := s.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.ExpiresAt = now.Add(s.ttl)

	data, err := encodeRedis(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, redisKey(rec.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", rec.ID, err)
	}
	if !ok {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", rec.ID))
	}
	return nil
}

// Get returns the record.
func (s *RedisStore) Get(ctx context.Context, ownerID, id string) (Record, error) {
	rec, err := s.read(ctx, s.client, id)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID != ownerID {
		return Record{}, notFound(id)
	}
	return rec, nil
}

// Update persists rec if nobody wrote the key since it was read.
func (s *RedisStore) Update(ctx context.Context, rec Record) error {
	key := redisKey(rec.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.read(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if existing.OwnerID != rec.OwnerID {
			return notFound(rec.ID)
		}
		if existing.Version != rec.Version {
			return conflict(rec.ID, rec.Version)
		}

		now := s.now()
		existing.Version++
		existing.State = rec.State
		existing.UpdatedAt = now
		existing.ExpiresAt = now.Add(s.ttl)
		data, err := encodeRedis(existing)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return conflict(rec.ID, rec.Version)
	}
	return err
}

// Delete removes a record.
func (s *RedisStore) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", id, err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) { return 0, nil }

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, id string) (Record, error) {
	raw, err := c.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get %q: %w", id, err)
	}
	var r redisRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal session %q: %w", id, err)
	}
	return Record{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Version:   r.Version,
		State:     []byte(r.State),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		ExpiresAt: r.ExpiresAt,
	}, nil
}

func encodeRedis(rec Record) ([]byte, error) {
	state := json.RawMessage(rec.State)
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	data, err := json.Marshal(redisRecord{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		Version:   rec.Version,
		State:     state,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session %q: %w", rec.ID, err)
	}
	return data, nil
}
