// Package scheduler stores deferred one-shot jobs in Redis and hands them
// out exactly once when they come due.
//
// A job lives in two structures that always agree on the set of ids: the
// content hash (id -> encoded task) and the time index (sorted set, id ->
// due time in epoch seconds). Every mutation of either happens inside one
// MULTI/EXEC, guarded by WATCH where a read decides what to write.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"safety-scheduler/internal/rediskeys"
	"safety-scheduler/internal/store"
	redisstore "safety-scheduler/internal/store/redis"
	"safety-scheduler/internal/task"
)

// Keys names the Redis structures the engine owns.
type Keys struct {
	Jobs         string
	Schedule     string
	Reservations string
	JobRefs      string
	RefPrefix    string
	IdemPrefix   string
}

func DefaultKeys() Keys {
	return Keys{
		Jobs:         rediskeys.JobsKey,
		Schedule:     rediskeys.ScheduleKey,
		Reservations: rediskeys.ReservationsKey,
		JobRefs:      rediskeys.JobRefsKey,
		RefPrefix:    rediskeys.RefKeyPrefix,
		IdemPrefix:   rediskeys.IdempotencyKeyPrefix,
	}
}

// PrefixedKeys returns the default key names with prefix prepended.
func PrefixedKeys(prefix string) Keys {
	k := DefaultKeys()
	return Keys{
		Jobs:         prefix + k.Jobs,
		Schedule:     prefix + k.Schedule,
		Reservations: prefix + k.Reservations,
		JobRefs:      prefix + k.JobRefs,
		RefPrefix:    prefix + k.RefPrefix,
		IdemPrefix:   prefix + k.IdemPrefix,
	}
}

type Job struct {
	ID    string
	DueAt int64
	Task  task.Task
}

type Engine struct {
	store *redisstore.Store
	keys  Keys
	newID func() (string, error)
	now   func() time.Time
	log   zerolog.Logger
}

type Option func(*Engine)

func WithKeys(keys Keys) Option {
	return func(e *Engine) { e.keys = keys }
}

func WithIDLength(n int) Option {
	return func(e *Engine) {
		e.newID = func() (string, error) { return NewID(n) }
	}
}

func WithIDGenerator(gen func() (string, error)) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s *redisstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		keys:  DefaultKeys(),
		newID: func() (string, error) { return NewID(DefaultIDLength) },
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type createOptions struct {
	ref     string
	refTTL  time.Duration
	idem    string
	idemTTL time.Duration
}

type CreateOption func(*createOptions)

// WithRef maps an external reference (such as the chat message showing the
// job) back to the job id for ttl. A non-positive ttl uses the job's
// remaining lifetime.
func WithRef(ref string, ttl time.Duration) CreateOption {
	return func(o *createOptions) {
		o.ref = ref
		o.refTTL = ttl
	}
}

// WithIdempotencyKey makes Schedule record key -> job id for ttl and, while
// the record lives, return the recorded id with store.ErrAlreadyExists
// instead of scheduling again. Create ignores it.
func WithIdempotencyKey(key string, ttl time.Duration) CreateOption {
	return func(o *createOptions) {
		o.idem = key
		o.idemTTL = ttl
	}
}

// ReserveID hands out an id that is neither reserved nor in use, and marks
// it reserved so no other caller can take it before Create.
func (e *Engine) ReserveID(ctx context.Context) (string, error) {
	var id string
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		cand, err := e.freeID(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, e.keys.Reservations, cand, rediskeys.ReservedMarker)
			return nil
		})
		if err != nil {
			return err
		}
		id = cand
		return nil
	}, e.keys.Reservations, e.keys.Jobs)
	if err != nil {
		return "", fmt.Errorf("reserve id: %w", err)
	}
	return id, nil
}

// Release drops a reservation whose job was never created. It is a no-op
// for ids that became jobs or were never reserved.
func (e *Engine) Release(ctx context.Context, id string) error {
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		inUse, err := tx.HExists(ctx, e.keys.Jobs, id).Result()
		if err != nil || inUse {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, e.keys.Reservations, id)
			return nil
		})
		return err
	}, e.keys.Jobs, e.keys.Reservations)
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

// Create stores t under id, due at dueAt. The id usually comes from
// ReserveID; an id that already names a job fails with
// store.ErrAlreadyExists and nothing is written.
func (e *Engine) Create(ctx context.Context, t task.Task, id string, dueAt int64, opts ...CreateOption) error {
	if id == "" {
		return errors.New("create: job id is required")
	}
	payload, err := e.encode(t)
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	co := e.createOptions(dueAt, opts)
	err = e.store.Attempt(ctx, func(tx *redis.Tx) error {
		inUse, err := tx.HExists(ctx, e.keys.Jobs, id).Result()
		if err != nil {
			return err
		}
		if inUse {
			return store.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			e.writeJob(ctx, pipe, id, payload, dueAt, co)
			return nil
		})
		return err
	}, e.keys.Jobs)
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	return nil
}

// Schedule stores t under a freshly generated id without a prior
// reservation, regenerating the id until it is free.
func (e *Engine) Schedule(ctx context.Context, t task.Task, dueAt int64, opts ...CreateOption) (string, error) {
	payload, err := e.encode(t)
	if err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}
	co := e.createOptions(dueAt, opts)

	watched := []string{e.keys.Jobs, e.keys.Reservations}
	if co.idem != "" {
		watched = append(watched, e.idemKey(co.idem))
	}

	var id string
	err = e.store.Attempt(ctx, func(tx *redis.Tx) error {
		if co.idem != "" {
			existing, err := tx.Get(ctx, e.idemKey(co.idem)).Result()
			switch {
			case err == nil:
				id = existing
				return store.ErrAlreadyExists
			case !errors.Is(err, redis.Nil):
				return err
			}
		}
		cand, err := e.freeID(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			e.writeJob(ctx, pipe, cand, payload, dueAt, co)
			if co.idem != "" {
				pipe.Set(ctx, e.idemKey(co.idem), cand, co.idemTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		id = cand
		return nil
	}, watched...)
	if errors.Is(err, store.ErrAlreadyExists) {
		return id, fmt.Errorf("schedule: key %s: %w", co.idem, err)
	}
	if err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}
	return id, nil
}

func (e *Engine) Get(ctx context.Context, id string) (task.Task, error) {
	data, err := e.store.HGet(ctx, e.keys.Jobs, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return e.decode(id, data)
}

// Edit replaces the payload of an existing job. The due time only changes
// when newDueAt is non-nil.
func (e *Engine) Edit(ctx context.Context, t task.Task, id string, newDueAt *int64) error {
	payload, err := e.encode(t)
	if err != nil {
		return fmt.Errorf("edit %s: %w", id, err)
	}
	err = e.store.Attempt(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, e.keys.Jobs, id).Result()
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, e.keys.Jobs, id, payload)
			if newDueAt != nil {
				pipe.ZAdd(ctx, e.keys.Schedule, redis.Z{Score: float64(*newDueAt), Member: id})
			}
			return nil
		})
		return err
	}, e.keys.Jobs, e.keys.Schedule)
	if err != nil {
		return fmt.Errorf("edit %s: %w", id, err)
	}
	return nil
}

// Update applies fn to the stored task of id and writes the result back,
// keeping the due time. fn runs under WATCH and may run more than once; an
// error from fn aborts the update and is returned unchanged.
func (e *Engine) Update(ctx context.Context, id string, fn func(task.Task) error) (task.Task, error) {
	var (
		updated task.Task
		abort   error
	)
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		updated, abort = nil, nil
		raw, err := tx.HGet(ctx, e.keys.Jobs, id).Bytes()
		if err != nil {
			return err
		}
		t, err := e.decode(id, raw)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			abort = err
			return nil
		}
		payload, err := e.encode(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, e.keys.Jobs, id, payload)
			return nil
		})
		if err != nil {
			return err
		}
		updated = t
		return nil
	}, e.keys.Jobs)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if abort != nil {
		return nil, abort
	}
	return updated, nil
}

// Remove deletes a job. Removing a job that does not exist succeeds.
func (e *Engine) Remove(ctx context.Context, id string) error {
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		if _, err := tx.ZScore(ctx, e.keys.Schedule, id).Result(); err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		refs, err := e.refKeys(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, e.keys.Jobs, id)
			pipe.ZRem(ctx, e.keys.Schedule, id)
			e.dropSideEntries(ctx, pipe, []string{id}, refs)
			return nil
		})
		return err
	}, e.keys.Jobs, e.keys.Schedule, e.keys.JobRefs)
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// ClaimDue removes every job due at or before now and returns them. A job
// returned by one call is never returned by another. If any payload fails
// to decode nothing is removed and the error names the job.
func (e *Engine) ClaimDue(ctx context.Context, now int64) ([]Job, error) {
	var jobs []Job
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		jobs = nil
		due, ids, err := e.readDue(ctx, tx, now)
		if err != nil || len(ids) == 0 {
			return err
		}
		// ids includes index entries without content; they go too.
		refs, err := e.refKeys(ctx, tx, ids)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, e.keys.Jobs, ids...)
			pipe.ZRemRangeByScore(ctx, e.keys.Schedule, "-inf", fmt.Sprint(now))
			e.dropSideEntries(ctx, pipe, ids, refs)
			return nil
		})
		if err != nil {
			return err
		}
		jobs = due
		return nil
	}, e.keys.Jobs, e.keys.Schedule, e.keys.JobRefs)
	if err != nil {
		return nil, fmt.Errorf("claim due <= %d: %w", now, err)
	}
	return jobs, nil
}

// PeekDue returns the jobs due at or before now without removing them.
func (e *Engine) PeekDue(ctx context.Context, now int64) ([]Job, error) {
	var jobs []Job
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		due, _, err := e.readDue(ctx, tx, now)
		if err != nil {
			return err
		}
		// An empty EXEC still fails if a watched key moved, so the two
		// reads above are known to be from one snapshot.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZCard(ctx, e.keys.Schedule)
			return nil
		})
		if err != nil {
			return err
		}
		jobs = due
		return nil
	}, e.keys.Jobs, e.keys.Schedule)
	if err != nil {
		return nil, fmt.Errorf("peek due <= %d: %w", now, err)
	}
	return jobs, nil
}

// Pop claims a single job ahead of its due time.
func (e *Engine) Pop(ctx context.Context, id string) (Job, error) {
	var job Job
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, e.keys.Jobs, id).Bytes()
		if err != nil {
			return err
		}
		score, err := tx.ZScore(ctx, e.keys.Schedule, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		t, err := e.decode(id, data)
		if err != nil {
			return err
		}
		refs, err := e.refKeys(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, e.keys.Jobs, id)
			pipe.ZRem(ctx, e.keys.Schedule, id)
			e.dropSideEntries(ctx, pipe, []string{id}, refs)
			return nil
		})
		if err != nil {
			return err
		}
		job = Job{ID: id, DueAt: int64(score), Task: t}
		return nil
	}, e.keys.Jobs, e.keys.Schedule, e.keys.JobRefs)
	if err != nil {
		return Job{}, fmt.Errorf("pop %s: %w", id, err)
	}
	return job, nil
}

// LookupRef resolves an external reference written by WithRef to the job
// id it points at, as long as that job still exists.
func (e *Engine) LookupRef(ctx context.Context, ref string) (string, error) {
	id, err := e.store.Get(ctx, e.refKey(ref))
	if err != nil {
		return "", fmt.Errorf("lookup ref %s: %w", ref, err)
	}
	exists, err := e.store.HExists(ctx, e.keys.Jobs, id)
	if err != nil {
		return "", fmt.Errorf("lookup ref %s: %w", ref, err)
	}
	if !exists {
		return "", fmt.Errorf("lookup ref %s: %w", ref, store.ErrNotFound)
	}
	return id, nil
}

// ClearDue drops every job due at or before now without decoding it and
// returns how many were dropped.
func (e *Engine) ClearDue(ctx context.Context, now int64) (int, error) {
	var n int
	err := e.store.Attempt(ctx, func(tx *redis.Tx) error {
		n = 0
		ids, err := tx.ZRangeByScore(ctx, e.keys.Schedule, redisstore.UpTo(now)).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		refs, err := e.refKeys(ctx, tx, ids)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, e.keys.Jobs, ids...)
			pipe.ZRemRangeByScore(ctx, e.keys.Schedule, "-inf", fmt.Sprint(now))
			e.dropSideEntries(ctx, pipe, ids, refs)
			return nil
		})
		if err != nil {
			return err
		}
		n = len(ids)
		return nil
	}, e.keys.Jobs, e.keys.Schedule, e.keys.JobRefs)
	if err != nil {
		return 0, fmt.Errorf("clear due <= %d: %w", now, err)
	}
	return n, nil
}

// Clear drops every job and reservation.
func (e *Engine) Clear(ctx context.Context) error {
	err := e.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, e.keys.Jobs, e.keys.Schedule, e.keys.Reservations, e.keys.JobRefs)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Count returns the number of scheduled jobs.
func (e *Engine) Count(ctx context.Context) (int64, error) {
	n, err := e.store.ZCard(ctx, e.keys.Schedule)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (e *Engine) freeID(ctx context.Context, tx *redis.Tx) (string, error) {
	for {
		cand, err := e.newID()
		if err != nil {
			return "", err
		}
		reserved, err := tx.HExists(ctx, e.keys.Reservations, cand).Result()
		if err != nil {
			return "", err
		}
		if reserved {
			continue
		}
		inUse, err := tx.HExists(ctx, e.keys.Jobs, cand).Result()
		if err != nil {
			return "", err
		}
		if !inUse {
			return cand, nil
		}
	}
}

func (e *Engine) createOptions(dueAt int64, opts []CreateOption) createOptions {
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}
	if co.idem != "" && co.idemTTL <= 0 {
		co.idemTTL = rediskeys.DedupeTTL
	}
	if co.ref != "" && co.refTTL <= 0 {
		co.refTTL = time.Unix(dueAt, 0).Sub(e.now())
		if co.refTTL < time.Second {
			co.refTTL = time.Second
		}
	}
	return co
}

func (e *Engine) writeJob(ctx context.Context, pipe redis.Pipeliner, id string, payload []byte, dueAt int64, co createOptions) {
	pipe.HSet(ctx, e.keys.Jobs, id, payload)
	pipe.ZAdd(ctx, e.keys.Schedule, redis.Z{Score: float64(dueAt), Member: id})
	if co.ref != "" {
		pipe.Set(ctx, e.refKey(co.ref), id, co.refTTL)
		pipe.HSet(ctx, e.keys.JobRefs, id, co.ref)
	}
}

// readDue loads and decodes the jobs due at or before now through tx, so
// the caller's WATCH covers everything read. It also returns every indexed
// id in range, including ones whose content is missing.
func (e *Engine) readDue(ctx context.Context, tx *redis.Tx, now int64) ([]Job, []string, error) {
	entries, err := tx.ZRangeByScoreWithScores(ctx, e.keys.Schedule, redisstore.UpTo(now)).Result()
	if err != nil || len(entries) == 0 {
		return nil, nil, err
	}
	ids := make([]string, len(entries))
	for i, z := range entries {
		ids[i] = fmt.Sprint(z.Member)
	}
	vals, err := tx.HMGet(ctx, e.keys.Jobs, ids...).Result()
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]Job, 0, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			e.log.Warn().Str("job_id", ids[i]).Msg("time index entry without content")
			continue
		}
		t, err := e.decode(ids[i], []byte(raw))
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, Job{ID: ids[i], DueAt: int64(entries[i].Score), Task: t})
	}
	return jobs, ids, nil
}

func (e *Engine) refKeys(ctx context.Context, tx *redis.Tx, ids []string) ([]string, error) {
	vals, err := tx.HMGet(ctx, e.keys.JobRefs, ids...).Result()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, v := range vals {
		if ref, ok := v.(string); ok && ref != "" {
			keys = append(keys, e.refKey(ref))
		}
	}
	return keys, nil
}

// dropSideEntries removes reservation markers and reverse-index entries for ids.
func (e *Engine) dropSideEntries(ctx context.Context, pipe redis.Pipeliner, ids, refKeys []string) {
	pipe.HDel(ctx, e.keys.Reservations, ids...)
	pipe.HDel(ctx, e.keys.JobRefs, ids...)
	if len(refKeys) > 0 {
		pipe.Del(ctx, refKeys...)
	}
}

func (e *Engine) refKey(ref string) string {
	return e.keys.RefPrefix + ref
}

func (e *Engine) idemKey(key string) string {
	return e.keys.IdemPrefix + key
}

func (e *Engine) encode(t task.Task) ([]byte, error) {
	data, err := task.Encode(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCodec, err)
	}
	return data, nil
}

func (e *Engine) decode(id string, data []byte) (task.Task, error) {
	t, err := task.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", store.ErrCodec, id, err)
	}
	return t, nil
}
