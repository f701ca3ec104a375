// Package notify describes the outbound chat capability scheduled tasks call
// into when they fire.
package notify

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrMessageUnavailable = errors.New("message unavailable")

type Notifier interface {
	SendMessage(ctx context.Context, channel uint64, text string) error
	DirectMessage(ctx context.Context, user uint64, text string) error
	FetchMessage(ctx context.Context, channel, message uint64) (MessageView, error)
}

// MessageView is the rendered state of a chat message: its body text and
// the reactions currently attached to it.
type MessageView struct {
	Body      string     `json:"body"`
	Reactions []Reaction `json:"reactions"`
}

type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	// Me is set when the count includes the bot's own seed reaction. The bot
	// seeds every option, so a snapshot that omits the field means true.
	Me bool `json:"me"`
}

func (r *Reaction) UnmarshalJSON(data []byte) error {
	var aux struct {
		Emoji string `json:"emoji"`
		Count int    `json:"count"`
		Me    *bool  `json:"me"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Reaction{Emoji: aux.Emoji, Count: aux.Count, Me: aux.Me == nil || *aux.Me}
	return nil
}

// MessageSource resolves message views for transports that cannot read
// messages back from the chat platform themselves.
type MessageSource interface {
	Fetch(ctx context.Context, channel, message uint64) (MessageView, error)
}
