package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"safety-scheduler/internal/metrics"
	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/notify/memory"
	"safety-scheduler/internal/scheduler"
	redisstore "safety-scheduler/internal/store/redis"
	"safety-scheduler/internal/task"
)

const baseTime int64 = 1_700_000_000

type fakeSource struct {
	mu    sync.Mutex
	jobs  []scheduler.Job
	err   error
	calls []int64
}

func (f *fakeSource) ClaimDue(ctx context.Context, now int64) ([]scheduler.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	if f.err != nil {
		return nil, f.err
	}
	var due, rest []scheduler.Job
	for _, j := range f.jobs {
		if j.DueAt <= now {
			due = append(due, j)
		} else {
			rest = append(rest, j)
		}
	}
	f.jobs = rest
	return due, nil
}

func (f *fakeSource) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.jobs)), nil
}

// blockingTask holds Execute open until release is closed.
type blockingTask struct {
	task.Event
	started chan struct{}
	release chan struct{}
	done    chan struct{}
}

func (b *blockingTask) Execute(ctx context.Context, n notify.Notifier) error {
	close(b.started)
	<-b.release
	close(b.done)
	return nil
}

type panicTask struct{ task.Event }

func (p *panicTask) Execute(ctx context.Context, n notify.Notifier) error {
	panic("boom")
}

func fixedClock() time.Time { return time.Unix(baseTime, 0) }

func newTestLoop(t *testing.T, src Source, n notify.Notifier) *Loop {
	t.Helper()
	loop, err := New(src, n, Config{Interval: time.Second, ExecTimeout: time.Second},
		WithClock(fixedClock),
		WithMetrics(metrics.New("test", prometheus.NewRegistry())),
	)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	return loop
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(nil, memory.New(), Config{}); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if _, err := New(&fakeSource{}, nil, Config{}); err == nil {
		t.Fatalf("expected error for missing notifier")
	}
	loop, err := New(&fakeSource{}, memory.New(), Config{})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	if loop.cfg.Interval != DefaultInterval || loop.cfg.ExecTimeout != DefaultExecTimeout {
		t.Fatalf("defaults not applied: %+v", loop.cfg)
	}
}

func TestTickExecutesClaimedJobs(t *testing.T) {
	src := &fakeSource{jobs: []scheduler.Job{
		{ID: "e1", DueAt: baseTime - 5, Task: &task.Event{Author: 1, Channel: 10, Topic: "standup"}},
		{ID: "e2", DueAt: baseTime, Task: &task.Event{Author: 2, Channel: 20, Topic: "retro"}},
		{ID: "e3", DueAt: baseTime + 60, Task: &task.Event{Author: 3, Channel: 30, Topic: "later"}},
	}}
	rec := memory.New()
	loop := newTestLoop(t, src, rec)

	n, err := loop.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 2 {
		t.Fatalf("claimed = %d", n)
	}
	loop.Wait()

	sent := rec.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected two sends, got %+v", sent)
	}
	channels := map[uint64]bool{}
	for _, m := range sent {
		channels[m.Target] = true
	}
	if !channels[10] || !channels[20] {
		t.Fatalf("unexpected targets: %+v", sent)
	}
	if src.calls[0] != baseTime {
		t.Fatalf("claimed with now=%d", src.calls[0])
	}
}

func TestTickClaimFailureSkipsTick(t *testing.T) {
	src := &fakeSource{err: errors.New("store down")}
	rec := memory.New()
	loop := newTestLoop(t, src, rec)

	if _, err := loop.Tick(context.Background()); err == nil {
		t.Fatalf("expected tick error")
	}
	loop.Wait()
	if len(rec.Sent()) != 0 {
		t.Fatalf("expected no sends")
	}
}

func TestTickExecutesConcurrently(t *testing.T) {
	a := &blockingTask{started: make(chan struct{}), release: make(chan struct{}), done: make(chan struct{})}
	b := &blockingTask{started: make(chan struct{}), release: make(chan struct{}), done: make(chan struct{})}
	src := &fakeSource{jobs: []scheduler.Job{
		{ID: "a", DueAt: baseTime, Task: a},
		{ID: "b", DueAt: baseTime, Task: b},
	}}
	loop := newTestLoop(t, src, memory.New())

	if _, err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	// Both must be running at once; a serial loop would never start b.
	for _, bt := range []*blockingTask{a, b} {
		select {
		case <-bt.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("execution did not start concurrently")
		}
	}
	close(a.release)
	close(b.release)
	loop.Wait()
}

func TestExecutionFailureIsContained(t *testing.T) {
	src := &fakeSource{jobs: []scheduler.Job{
		{ID: "bad", DueAt: baseTime, Task: &panicTask{task.Event{Author: 1}}},
		{ID: "fail", DueAt: baseTime, Task: &task.Event{Author: 5, Channel: 99, Topic: "blocked"}},
		{ID: "ok", DueAt: baseTime, Task: &task.Event{Author: 6, Channel: 42, Topic: "fine"}},
	}}
	rec := memory.New()
	rec.FailChannel(99, errors.New("forbidden"))
	loop := newTestLoop(t, src, rec)

	if _, err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	loop.Wait()

	var gotOK, gotDM bool
	for _, m := range rec.Sent() {
		if m.Kind == memory.KindChannel && m.Target == 42 {
			gotOK = true
		}
		if m.Kind == memory.KindDirect && m.Target == 5 && strings.Contains(m.Text, "forbidden") {
			gotDM = true
		}
	}
	if !gotOK {
		t.Fatalf("healthy task did not run: %+v", rec.Sent())
	}
	if !gotDM {
		t.Fatalf("author of failed task not told: %+v", rec.Sent())
	}
	// Claimed jobs are never handed back.
	if n, _ := src.Count(context.Background()); n != 0 {
		t.Fatalf("jobs re-queued: %d", n)
	}
}

func TestStopWaitsForInflight(t *testing.T) {
	bt := &blockingTask{started: make(chan struct{}), release: make(chan struct{}), done: make(chan struct{})}
	src := &fakeSource{jobs: []scheduler.Job{{ID: "slow", DueAt: baseTime, Task: bt}}}
	loop := newTestLoop(t, src, memory.New())

	if _, err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	<-bt.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := loop.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while task runs, got %v", err)
	}

	close(bt.release)
	if err := loop.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-bt.done:
	default:
		t.Fatalf("stop returned before execution finished")
	}
}

func TestStartTicksAndStop(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	store := redisstore.New(&redis.Options{Addr: mr.Addr()})
	defer store.Close()
	engine := scheduler.New(store)
	ctx := context.Background()

	if err := engine.Create(ctx, &task.Event{Author: 1, Channel: 77, Topic: "standup"}, "e1", baseTime); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := memory.New()
	loop := newTestLoop(t, engine, rec)
	if err := loop.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := loop.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := loop.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	sent := rec.Sent()
	if len(sent) != 1 || sent[0].Target != 77 {
		t.Fatalf("expected one send to channel 77, got %+v", sent)
	}
	if n, _ := engine.Count(ctx); n != 0 {
		t.Fatalf("expected job to be claimed, %d left", n)
	}
}
