// Package task holds the payloads a scheduled job can carry and what each
// one does when it comes due.
package task

import (
	"context"
	"strconv"
	"strings"

	"safety-scheduler/internal/notify"
)

type Kind string

const (
	KindEvent Kind = "event"
	KindPoll  Kind = "poll"
)

// Task is the closed union of job payloads: *Event or *Poll.
type Task interface {
	Kind() Kind
	// Execute performs the task's effect. Failures are reported to the
	// task's author through n on a best-effort basis and also returned.
	Execute(ctx context.Context, n notify.Notifier) error

	isTask()
}

// Author returns the id of the user who created t.
func Author(t Task) uint64 {
	switch v := t.(type) {
	case *Event:
		return v.Author
	case *Poll:
		return v.Author
	default:
		return 0
	}
}

// Topic returns the human-readable subject of t.
func Topic(t Task) string {
	switch v := t.(type) {
	case *Event:
		return v.Topic
	case *Poll:
		return v.Topic
	default:
		return ""
	}
}

func Mention(user uint64) string {
	return "<@" + strconv.FormatUint(user, 10) + ">"
}

func mentionList(users []uint64) string {
	parts := make([]string, len(users))
	for i, u := range users {
		parts[i] = Mention(u)
	}
	return strings.Join(parts, ", ")
}
