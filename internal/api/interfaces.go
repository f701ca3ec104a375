package api

import (
	"context"

	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/scheduler"
	"safety-scheduler/internal/task"
)

// Engine is the scheduler surface the producer API exposes.
type Engine interface {
	ReserveID(ctx context.Context) (string, error)
	Release(ctx context.Context, id string) error
	Create(ctx context.Context, t task.Task, id string, dueAt int64, opts ...scheduler.CreateOption) error
	Schedule(ctx context.Context, t task.Task, dueAt int64, opts ...scheduler.CreateOption) (string, error)
	Get(ctx context.Context, id string) (task.Task, error)
	Edit(ctx context.Context, t task.Task, id string, newDueAt *int64) error
	Update(ctx context.Context, id string, fn func(task.Task) error) (task.Task, error)
	Remove(ctx context.Context, id string) error
	Pop(ctx context.Context, id string) (scheduler.Job, error)
	PeekDue(ctx context.Context, now int64) ([]scheduler.Job, error)
	LookupRef(ctx context.Context, ref string) (string, error)
	Count(ctx context.Context) (int64, error)
}

// Messages stores the chat message snapshots polls are tallied from.
type Messages interface {
	Put(ctx context.Context, channel, message uint64, view notify.MessageView) error
	Fetch(ctx context.Context, channel, message uint64) (notify.MessageView, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
