// Package messages keeps snapshots of chat messages in Redis so transports
// that cannot read the chat platform back can still serve message views.
package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/rediskeys"
	"safety-scheduler/internal/store"
	redisstore "safety-scheduler/internal/store/redis"
)

type Store struct {
	store *redisstore.Store
	ttl   time.Duration
}

// New returns a snapshot store whose entries expire after ttl, or after
// rediskeys.MessageSnapshotTTL when ttl is not positive.
func New(s *redisstore.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = rediskeys.MessageSnapshotTTL
	}
	return &Store{store: s, ttl: ttl}
}

// Put replaces the snapshot of a message and restarts its expiry.
func (s *Store) Put(ctx context.Context, channel, message uint64, view notify.MessageView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrCodec, err)
	}
	if err := s.store.SetWithTTL(ctx, rediskeys.MessageKey(channel, message), data, s.ttl); err != nil {
		return fmt.Errorf("put message %d/%d: %w", channel, message, err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, channel, message uint64) (notify.MessageView, error) {
	raw, err := s.store.Get(ctx, rediskeys.MessageKey(channel, message))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notify.MessageView{}, fmt.Errorf("%w: %d/%d", notify.ErrMessageUnavailable, channel, message)
		}
		return notify.MessageView{}, fmt.Errorf("fetch message %d/%d: %w", channel, message, err)
	}
	var view notify.MessageView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return notify.MessageView{}, fmt.Errorf("%w: message %d/%d: %v", store.ErrCodec, channel, message, err)
	}
	return view, nil
}

func (s *Store) Delete(ctx context.Context, channel, message uint64) error {
	if err := s.store.Del(ctx, rediskeys.MessageKey(channel, message)); err != nil {
		return fmt.Errorf("delete message %d/%d: %w", channel, message, err)
	}
	return nil
}
