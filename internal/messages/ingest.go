package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"safety-scheduler/internal/kafka"
	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/retry"
)

const pollBackoff = time.Second

// Snapshot is the JSON value of a message snapshot published by the chat
// gateway.
type Snapshot struct {
	Channel uint64             `json:"channel,string"`
	Message uint64             `json:"message,string"`
	View    notify.MessageView `json:"view"`
}

// Ingest stores snapshots read from c until ctx ends. Malformed snapshots
// are committed and dropped. A snapshot that fails to store is retried
// until it is stored or ctx ends; nothing after it is polled meanwhile, so
// a later commit never acknowledges it.
func (s *Store) Ingest(ctx context.Context, c kafka.Consumer, log zerolog.Logger) error {
	for {
		msg, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("snapshot poll failed")
			if err := retry.Sleep(ctx, pollBackoff); err != nil {
				return err
			}
			continue
		}
		if err := s.storeUntilDone(ctx, msg, log); err != nil {
			return err
		}
		if err := c.Commit(ctx, msg); err != nil {
			log.Warn().Err(err).Str("key", msg.Key).Msg("snapshot commit failed")
		}
	}
}

// storeUntilDone returns nil once msg is stored or found malformed, and
// ctx's error if ctx ends first.
func (s *Store) storeUntilDone(ctx context.Context, msg kafka.Message, log zerolog.Logger) error {
	for {
		err := s.ingestOne(ctx, msg)
		if err == nil {
			return nil
		}
		var malformed malformedError
		if errors.As(err, &malformed) {
			log.Warn().Err(err).Str("key", msg.Key).Msg("snapshot dropped")
			return nil
		}
		log.Warn().Err(err).Str("key", msg.Key).Msg("snapshot not stored, retrying")
		if err := retry.Sleep(ctx, pollBackoff); err != nil {
			return err
		}
	}
}

type malformedError struct{ err error }

func (e malformedError) Error() string { return "malformed snapshot: " + e.err.Error() }

func (s *Store) ingestOne(ctx context.Context, msg kafka.Message) error {
	var snap Snapshot
	if err := json.Unmarshal(msg.Value, &snap); err != nil {
		return malformedError{err}
	}
	if snap.Channel == 0 || snap.Message == 0 {
		return malformedError{fmt.Errorf("missing channel or message id")}
	}
	return s.Put(ctx, snap.Channel, snap.Message, snap.View)
}
