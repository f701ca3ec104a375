package memory

import (
	"context"
	"errors"
	"testing"

	"safety-scheduler/internal/notify"
)

func TestRecorder_Send(t *testing.T) {
	rec := New()
	if err := rec.SendMessage(context.Background(), 7, "hello"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if err := rec.DirectMessage(context.Background(), 9, "psst"); err != nil {
		t.Fatalf("DirectMessage error: %v", err)
	}

	sent := rec.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent len = %d, want 2", len(sent))
	}
	if sent[0] != (Message{Kind: KindChannel, Target: 7, Text: "hello"}) {
		t.Fatalf("sent[0] = %+v", sent[0])
	}
	if sent[1] != (Message{Kind: KindDirect, Target: 9, Text: "psst"}) {
		t.Fatalf("sent[1] = %+v", sent[1])
	}
}

func TestRecorder_FailChannel(t *testing.T) {
	rec := New()
	boom := errors.New("boom")
	rec.FailChannel(7, boom)
	if err := rec.SendMessage(context.Background(), 7, "hello"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(rec.Sent()) != 0 {
		t.Fatalf("failed send should not be recorded")
	}
}

func TestRecorder_FetchMissing(t *testing.T) {
	rec := New()
	_, err := rec.FetchMessage(context.Background(), 1, 2)
	if !errors.Is(err, notify.ErrMessageUnavailable) {
		t.Fatalf("expected ErrMessageUnavailable, got %v", err)
	}
	rec.PutView(1, 2, notify.MessageView{Body: "1. a"})
	view, err := rec.FetchMessage(context.Background(), 1, 2)
	if err != nil || view.Body != "1. a" {
		t.Fatalf("view = %+v err=%v", view, err)
	}
}
