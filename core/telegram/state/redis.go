package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "ridesbot:session"
	maxMutateAttempts = 8
)

// RedisStore keeps JSON-encoded entries in Redis so conversations survive
// restarts and can be shared by several bot replicas.
//
// Each entry lives under "<prefix>:<user_id>" with the idle timeout as key TTL.
// A sorted set "<prefix>:idle" scores users by last write so Sweep can report
// whose entry was dropped. Mutate uses WATCH/MULTI and retries on conflict.
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
	opts   options
}

// NewRedisStore builds a store on top of an existing client.
func NewRedisStore[T any](client *redis.Client, prefix string, opts ...Option) *RedisStore[T] {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore[T]{client: client, prefix: prefix, opts: buildOptions(opts)}
}

func (s *RedisStore[T]) key(userID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, userID)
}

func (s *RedisStore[T]) indexKey() string {
	return s.prefix + ":idle"
}

// Load fetches and decodes the user's entry.
func (s *RedisStore[T]) Load(ctx context.Context, userID int64) (*T, bool, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: load %d: %w", userID, err)
	}
	v, err := decode[T](data)
	if err != nil {
		return nil, false, fmt.Errorf("state: decode %d: %w", userID, err)
	}
	return v, true, nil
}

// Save overwrites the user's entry and refreshes its TTL.
func (s *RedisStore[T]) Save(ctx context.Context, userID int64, v *T) error {
	if v == nil {
		return s.Delete(ctx, userID)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %d: %w", userID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, userID, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("state: save %d: %w", userID, err)
	}
	return nil
}

// Mutate reads, applies fn and writes back inside an optimistic transaction.
func (s *RedisStore[T]) Mutate(ctx context.Context, userID int64, fn MutateFunc[T]) (*T, error) {
	key := s.key(userID)
	var result *T

	txf := func(tx *redis.Tx) error {
		var cur *T
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decode[T](data); err != nil {
				return fmt.Errorf("state: decode %d: %w", userID, err)
			}
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		var payload []byte
		if next != nil {
			if payload, err = json.Marshal(next); err != nil {
				return fmt.Errorf("state: encode %d: %w", userID, err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				s.remove(ctx, pipe, userID)
				return nil
			}
			s.write(ctx, pipe, userID, payload)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrConflict
}

// Delete removes the user's entry; absent entries are ignored.
func (s *RedisStore[T]) Delete(ctx context.Context, userID int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.remove(ctx, pipe, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("state: delete %d: %w", userID, err)
	}
	return nil
}

// Sweep drops users whose last write is older than the idle timeout.
// Entries refreshed between the scan and the removal are left alone.
func (s *RedisStore[T]) Sweep(ctx context.Context, now time.Time) ([]int64, error) {
	cutoff := now.Add(-s.opts.ttl).UnixMilli()
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("state: sweep scan: %w", err)
	}

	var reaped []int64
	for _, member := range members {
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			_ = s.client.ZRem(ctx, s.indexKey(), member).Err()
			continue
		}
		key := s.key(userID)
		dropped := false
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			score, err := tx.ZScore(ctx, s.indexKey(), member).Result()
			if errors.Is(err, redis.Nil) || (err == nil && int64(score) > cutoff) {
				return nil
			}
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.remove(ctx, pipe, userID)
				return nil
			})
			if err == nil {
				dropped = true
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("state: sweep %d: %w", userID, err)
		}
		if dropped {
			reaped = append(reaped, userID)
		}
	}
	return reaped, nil
}

func (s *RedisStore[T]) write(ctx context.Context, pipe redis.Pipeliner, userID int64, payload []byte) {
	pipe.Set(ctx, s.key(userID), payload, s.opts.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(s.opts.now().UnixMilli()),
		Member: strconv.FormatInt(userID, 10),
	})
}

func (s *RedisStore[T]) remove(ctx context.Context, pipe redis.Pipeliner, userID int64) {
	pipe.Del(ctx, s.key(userID))
	pipe.ZRem(ctx, s.indexKey(), strconv.FormatInt(userID, 10))
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

var _ Store[struct{}] = (*RedisStore[struct{}])(nil)
