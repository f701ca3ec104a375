package memory

import (
	"context"
	"fmt"
	"sync"

	"safety-scheduler/internal/notify"
)

type Kind string

const (
	KindChannel Kind = "channel"
	KindDirect  Kind = "direct"
)

// Message is one outbound send recorded by a Recorder.
type Message struct {
	Kind   Kind
	Target uint64
	Text   string
}

// Recorder is an in-memory implementation of notify.Notifier.
type Recorder struct {
	mu       sync.Mutex
	sent     []Message
	views    map[[2]uint64]notify.MessageView
	sendErr  map[uint64]error
	fetchErr error
}

func New() *Recorder {
	return &Recorder{
		views:   make(map[[2]uint64]notify.MessageView),
		sendErr: make(map[uint64]error),
	}
}

// PutView makes FetchMessage return view for the given message.
func (r *Recorder) PutView(channel, message uint64, view notify.MessageView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[[2]uint64{channel, message}] = view
}

// FailChannel makes every SendMessage to channel return err.
func (r *Recorder) FailChannel(channel uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr[channel] = err
}

// FailFetch makes every FetchMessage return err.
func (r *Recorder) FailFetch(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchErr = err
}

func (r *Recorder) SendMessage(ctx context.Context, channel uint64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.sendErr[channel]; err != nil {
		return err
	}
	r.sent = append(r.sent, Message{Kind: KindChannel, Target: channel, Text: text})
	return nil
}

func (r *Recorder) DirectMessage(ctx context.Context, user uint64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Kind: KindDirect, Target: user, Text: text})
	return nil
}

func (r *Recorder) FetchMessage(ctx context.Context, channel, message uint64) (notify.MessageView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return notify.MessageView{}, r.fetchErr
	}
	view, ok := r.views[[2]uint64{channel, message}]
	if !ok {
		return notify.MessageView{}, fmt.Errorf("%w: %d/%d", notify.ErrMessageUnavailable, channel, message)
	}
	return view, nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
