package task

import (
	"context"
	"fmt"
	"slices"

	"safety-scheduler/internal/notify"
)

// Event is a reminder that pings its author and signed-up members in a
// channel when it comes due.
type Event struct {
	Author  uint64   `msgpack:"author" json:"author"`
	Channel uint64   `msgpack:"channel" json:"channel"`
	Topic   string   `msgpack:"topic" json:"topic"`
	Members []uint64 `msgpack:"members" json:"members"`
	// Time is the display label the author used when scheduling.
	Time string `msgpack:"time" json:"time"`
}

func (e *Event) Kind() Kind { return KindEvent }

func (e *Event) isTask() {}

func (e *Event) HasMember(user uint64) bool {
	return slices.Contains(e.Members, user)
}

// AddMember signs user up. It reports false if user was already a member.
func (e *Event) AddMember(user uint64) bool {
	if e.HasMember(user) {
		return false
	}
	e.Members = append(e.Members, user)
	return true
}

// RemoveMember reports false if user was not a member.
func (e *Event) RemoveMember(user uint64) bool {
	if !e.HasMember(user) {
		return false
	}
	e.Members = slices.DeleteFunc(e.Members, func(m uint64) bool { return m == user })
	return true
}

// MembersAndAuthor renders the author followed by every member as mentions.
func (e *Event) MembersAndAuthor() string {
	users := make([]uint64, 0, len(e.Members)+1)
	users = append(users, e.Author)
	for _, m := range e.Members {
		if m != e.Author {
			users = append(users, m)
		}
	}
	return mentionList(users)
}

func (e *Event) Message() string {
	return fmt.Sprintf("Time for **%s** by %s\n%s", e.Topic, Mention(e.Author), mentionList(e.Members))
}

func (e *Event) Execute(ctx context.Context, n notify.Notifier) error {
	if err := n.SendMessage(ctx, e.Channel, e.Message()); err != nil {
		_ = n.DirectMessage(ctx, e.Author, fmt.Sprintf("Failed to hold event %s: %v", e.Topic, err))
		return fmt.Errorf("send event %q: %w", e.Topic, err)
	}
	return nil
}
