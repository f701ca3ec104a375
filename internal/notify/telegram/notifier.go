// Package telegram delivers outbound chat messages through the Telegram Bot
// API.
package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"

	"safety-scheduler/internal/notify"
)

// Bot is the subset of *telego.Bot the notifier calls.
type Bot interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Notifier sends through a Telegram bot. The Bot API cannot read reactions
// back, so message views come from a snapshot source.
type Notifier struct {
	bot      Bot
	messages notify.MessageSource
}

func New(bot Bot, messages notify.MessageSource) (*Notifier, error) {
	if bot == nil {
		return nil, errors.New("telegram bot is required")
	}
	if messages == nil {
		return nil, errors.New("message source is required")
	}
	return &Notifier{bot: bot, messages: messages}, nil
}

// NewFromToken builds the notifier around a fresh telego bot.
func NewFromToken(token string, messages notify.MessageSource) (*Notifier, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return New(bot, messages)
}

// SendMessage posts to a chat. Chat ids are stored as the two's complement
// bits of Telegram's signed ids, so group chats round-trip unchanged.
func (n *Notifier) SendMessage(ctx context.Context, channel uint64, text string) error {
	if err := n.send(ctx, int64(channel), text); err != nil {
		return fmt.Errorf("send to chat %d: %w", int64(channel), err)
	}
	return nil
}

// DirectMessage posts to the user's private chat, whose id equals the user id.
func (n *Notifier) DirectMessage(ctx context.Context, user uint64, text string) error {
	if err := n.send(ctx, int64(user), text); err != nil {
		return fmt.Errorf("direct message %d: %w", user, err)
	}
	return nil
}

func (n *Notifier) FetchMessage(ctx context.Context, channel, message uint64) (notify.MessageView, error) {
	return n.messages.Fetch(ctx, channel, message)
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	_, err := n.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	return err
}
