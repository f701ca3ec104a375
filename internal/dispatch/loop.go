// Package dispatch runs the periodic loop that claims due jobs and executes
// them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"safety-scheduler/internal/metrics"
	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/scheduler"
	"safety-scheduler/internal/task"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultExecTimeout = 30 * time.Second
)

// Source is the part of the scheduler engine the loop consumes.
type Source interface {
	ClaimDue(ctx context.Context, now int64) ([]scheduler.Job, error)
	Count(ctx context.Context) (int64, error)
}

type Config struct {
	Interval    time.Duration
	ExecTimeout time.Duration
}

type Loop struct {
	source   Source
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	inflight sync.WaitGroup
}

type Option func(*Loop)

func WithLogger(log zerolog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

func New(source Source, notifier notify.Notifier, cfg Config, opts ...Option) (*Loop, error) {
	if source == nil {
		return nil, errors.New("job source is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	l := &Loop{
		source:   source,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start schedules a tick every interval until Stop is called or ctx ends.
// Ticks never overlap: one still running when the next is due skips it.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		return errors.New("dispatch loop already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{log: l.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	spec := "@every " + l.cfg.Interval.String()
	if _, err := c.AddFunc(spec, func() {
		if runCtx.Err() != nil {
			return
		}
		_, _ = l.Tick(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule tick %q: %w", spec, err)
	}
	c.Start()
	l.cron = c
	l.cancel = cancel
	l.log.Info().Dur("interval", l.cfg.Interval).Msg("dispatch loop started")
	return nil
}

// Stop stops new ticks and waits for the running tick and every in-flight
// execution. It returns ctx's error if they do not finish in time.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	c, cancel := l.cron, l.cancel
	l.cron, l.cancel = nil, nil
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		l.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		l.log.Info().Msg("dispatch loop stopped")
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return fmt.Errorf("dispatch stop: %w", ctx.Err())
	}
}

// Tick claims every job due now and starts executing each one on its own
// goroutine. It returns the number of jobs claimed without waiting for
// their executions; Wait does that.
func (l *Loop) Tick(ctx context.Context) (int, error) {
	now := l.now()
	jobs, err := l.source.ClaimDue(ctx, now.Unix())
	if err != nil {
		l.metrics.RecordTick(metrics.StatusFailed, now, 0)
		l.log.Error().Err(err).Int64("now", now.Unix()).Msg("claim due jobs failed; tick skipped")
		return 0, err
	}
	l.metrics.RecordTick(metrics.StatusOK, now, len(jobs))
	if len(jobs) > 0 {
		l.log.Info().Int("count", len(jobs)).Int64("now", now.Unix()).Msg("claimed due jobs")
	}

	// Executions outlive the tick and a Stop-triggered cancel; only the
	// per-task timeout bounds them.
	execCtx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		l.inflight.Add(1)
		l.metrics.ExecutionStarted()
		go l.execute(execCtx, job)
	}

	if n, err := l.source.Count(ctx); err == nil {
		l.metrics.SetScheduled(n)
	} else {
		l.log.Debug().Err(err).Msg("count scheduled jobs failed")
	}
	return len(jobs), nil
}

// Wait blocks until every execution started so far has returned.
func (l *Loop) Wait() {
	l.inflight.Wait()
}

func (l *Loop) execute(ctx context.Context, job scheduler.Job) {
	defer l.inflight.Done()

	kind := string(job.Task.Kind())
	start := time.Now()
	status := metrics.StatusOK
	defer func() {
		if r := recover(); r != nil {
			status = metrics.StatusPanic
			l.log.Error().
				Str("job_id", job.ID).
				Str("kind", kind).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task execution panicked")
		}
		l.metrics.RecordExecution(kind, status, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.ExecTimeout)
	defer cancel()

	if err := job.Task.Execute(ctx, l.notifier); err != nil {
		status = metrics.StatusFailed
		l.log.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("kind", kind).
			Uint64("author", task.Author(job.Task)).
			Msg("task execution failed")
		return
	}
	l.log.Debug().Str("job_id", job.ID).Str("kind", kind).Msg("task executed")
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
