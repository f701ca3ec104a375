package kafka

import (
	"context"
	"errors"
	"io"
	"testing"

	segkafka "github.com/segmentio/kafka-go"
)

func TestValidateNotifications(t *testing.T) {
	cfg := Config{Brokers: []string{"b1"}, NotificationsTopic: "chat.outbound"}
	if err := cfg.ValidateNotifications(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := (Config{Brokers: []string{"b1"}}).ValidateNotifications(); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	if err := (Config{}).ValidateNotifications(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateSnapshots(t *testing.T) {
	cfg := Config{Brokers: []string{"b1"}, SnapshotsTopic: "chat.snapshots", GroupID: "dispatcher"}
	if err := cfg.ValidateSnapshots(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	cfg.GroupID = ""
	if err := cfg.ValidateSnapshots(); err == nil {
		t.Fatalf("expected error for missing group")
	}
}

type fakeWriter struct {
	msgs []segkafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...segkafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaGoProducerWithWriter(w)
	if err := p.Publish(context.Background(), "chat.outbound", Message{Key: "42", Value: []byte("hi")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || w.msgs[0].Topic != "chat.outbound" || string(w.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
}

func TestProducerPublishError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaGoProducerWithWriter(&fakeWriter{err: boom})
	if err := p.Publish(context.Background(), "t", Message{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	var nilProducer *KafkaGoProducer
	if err := nilProducer.Publish(context.Background(), "t", Message{}); err == nil {
		t.Fatalf("expected error from nil producer")
	}
}

type fakeReader struct {
	queue     []segkafka.Message
	committed []segkafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (segkafka.Message, error) {
	if len(r.queue) == 0 {
		return segkafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...segkafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerPollCommit(t *testing.T) {
	r := &fakeReader{queue: []segkafka.Message{{Key: []byte("10:20"), Value: []byte("{}"), Offset: 7}}}
	c := newKafkaGoConsumerWithReader(r)
	ctx := context.Background()

	msg, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if msg.Key != "10:20" {
		t.Fatalf("key = %q", msg.Key)
	}
	if err := c.Commit(ctx, msg); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(r.committed) != 1 || r.committed[0].Offset != 7 {
		t.Fatalf("unexpected commits: %+v", r.committed)
	}
	if err := c.Commit(ctx, msg); err == nil {
		t.Fatalf("expected error committing twice")
	}
	if _, err := c.Poll(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestConsumerForgetsAbandonedMessage(t *testing.T) {
	r := &fakeReader{queue: []segkafka.Message{
		{Key: []byte("10:20"), Offset: 7},
		{Key: []byte("10:21"), Offset: 8},
	}}
	c := newKafkaGoConsumerWithReader(r)
	ctx := context.Background()

	first, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	second, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if err := c.Commit(ctx, first); err == nil {
		t.Fatalf("expected error committing an abandoned message")
	}
	if err := c.Commit(ctx, second); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(r.committed) != 1 || r.committed[0].Offset != 8 {
		t.Fatalf("unexpected commits: %+v", r.committed)
	}
	if c.inflight != nil {
		t.Fatalf("in-flight message kept after commit")
	}
}

func TestCheckConnectivityNoBrokers(t *testing.T) {
	if err := CheckConnectivity(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}

type nopCloser struct{ closed bool }

func (n *nopCloser) Close() error {
	n.closed = true
	return nil
}

func TestCheckConnectivityDialsFirstBroker(t *testing.T) {
	var dialed string
	conn := &nopCloser{}
	dial := func(ctx context.Context, network, address string) (io.Closer, error) {
		dialed = address
		return conn, nil
	}
	if err := checkConnectivity(context.Background(), []string{"b1:9092", "b2:9092"}, dial); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if dialed != "b1:9092" || !conn.closed {
		t.Fatalf("dialed %q closed=%v", dialed, conn.closed)
	}
}
