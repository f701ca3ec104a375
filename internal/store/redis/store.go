package redisstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"safety-scheduler/internal/retry"
	"safety-scheduler/internal/store"
)

// Store is a thin capability wrapper over a Redis client. Every method maps
// redis.Nil to store.ErrNotFound and any other client failure to
// store.ErrTransport.
type Store struct {
	client redis.UniversalClient
	retry  retry.Config

	mu  sync.Mutex
	rng *rand.Rand
}

func New(opts *redis.Options) *Store {
	return NewWithClient(redis.NewClient(opts))
}

func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{
		client: client,
		retry:  retry.DefaultConfig(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRetry replaces the backoff used between conflicting transaction attempts.
func (s *Store) SetRetry(cfg retry.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.retry = cfg
	return nil
}

func (s *Store) Client() redis.UniversalClient {
	return s.client
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return Translate(s.client.Ping(ctx).Err())
}

// Attempt watches keys and runs fn, which reads through tx and commits with
// tx.TxPipelined. The whole body is rerun whenever a watched key changes
// before EXEC or fn returns store.ErrConflict.
func (s *Store) Attempt(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 1; ; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) && !errors.Is(err, store.ErrConflict) {
			return Translate(err)
		}
		if s.retry.Exhausted(attempt) {
			return fmt.Errorf("%w: %w after %d attempts", store.ErrTransport, store.ErrConflict, attempt)
		}
		if err := retry.Sleep(ctx, s.nextDelay(attempt)); err != nil {
			return fmt.Errorf("%w: %v", store.ErrTransport, err)
		}
	}
}

// Pipelined queues commands inside MULTI/EXEC without watching anything.
func (s *Store) Pipelined(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := s.client.TxPipelined(ctx, fn)
	return Translate(err)
}

func (s *Store) nextDelay(attempt int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay, err := retry.NextDelay(s.retry, int64(attempt), s.rng)
	if err != nil {
		return s.retry.Base
	}
	return delay
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	return val, Translate(err)
}

func (s *Store) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return Translate(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Exists(ctx context.Context, keys ...string) (bool, error) {
	n, err := s.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, Translate(err)
	}
	return n > 0, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return Translate(s.client.Del(ctx, keys...).Err())
}

func (s *Store) HGet(ctx context.Context, hash, id string) ([]byte, error) {
	val, err := s.client.HGet(ctx, hash, id).Bytes()
	return val, Translate(err)
}

func (s *Store) HSet(ctx context.Context, hash, id string, value []byte) error {
	return Translate(s.client.HSet(ctx, hash, id, value).Err())
}

func (s *Store) HDel(ctx context.Context, hash string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return Translate(s.client.HDel(ctx, hash, ids...).Err())
}

func (s *Store) HExists(ctx context.Context, hash, id string) (bool, error) {
	ok, err := s.client.HExists(ctx, hash, id).Result()
	return ok, Translate(err)
}

func (s *Store) HKeys(ctx context.Context, hash string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, hash).Result()
	return keys, Translate(err)
}

func (s *Store) ZAdd(ctx context.Context, set, id string, score int64) error {
	return Translate(s.client.ZAdd(ctx, set, redis.Z{Score: float64(score), Member: id}).Err())
}

// ZRangeByScore returns the members scored in [-inf, max].
func (s *Store) ZRangeByScore(ctx context.Context, set string, max int64) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, set, UpTo(max)).Result()
	return ids, Translate(err)
}

// ZRemRangeByScore removes the members scored in [-inf, max].
func (s *Store) ZRemRangeByScore(ctx context.Context, set string, max int64) error {
	return Translate(s.client.ZRemRangeByScore(ctx, set, "-inf", strconv.FormatInt(max, 10)).Err())
}

func (s *Store) ZRem(ctx context.Context, set string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return Translate(s.client.ZRem(ctx, set, members...).Err())
}

func (s *Store) ZScore(ctx context.Context, set, id string) (int64, error) {
	score, err := s.client.ZScore(ctx, set, id).Result()
	if err != nil {
		return 0, Translate(err)
	}
	return int64(score), nil
}

func (s *Store) ZCard(ctx context.Context, set string) (int64, error) {
	n, err := s.client.ZCard(ctx, set).Result()
	return n, Translate(err)
}

// UpTo is the range argument for "every member scored at or below max".
func UpTo(max int64) *redis.ZRangeBy {
	return &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(max, 10)}
}

// Translate folds a go-redis error into the store taxonomy. Errors that
// already carry a store sentinel pass through untouched.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return store.ErrNotFound
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrCodec),
		errors.Is(err, store.ErrTransport),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrTransport, err)
	}
}
