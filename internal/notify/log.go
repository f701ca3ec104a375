package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Logged writes outbound messages to a logger instead of a chat platform.
// Views still come from a snapshot source. It backs dry runs and local
// development.
type Logged struct {
	log      zerolog.Logger
	messages MessageSource
}

func NewLogged(log zerolog.Logger, messages MessageSource) *Logged {
	return &Logged{log: log, messages: messages}
}

func (l *Logged) SendMessage(ctx context.Context, channel uint64, text string) error {
	l.log.Info().Uint64("channel", channel).Str("text", text).Msg("send message")
	return nil
}

func (l *Logged) DirectMessage(ctx context.Context, user uint64, text string) error {
	l.log.Info().Uint64("user", user).Str("text", text).Msg("direct message")
	return nil
}

func (l *Logged) FetchMessage(ctx context.Context, channel, message uint64) (MessageView, error) {
	if l.messages == nil {
		return MessageView{}, ErrMessageUnavailable
	}
	return l.messages.Fetch(ctx, channel, message)
}
