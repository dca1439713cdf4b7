package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/notify"
	"github.com/atmx/bean-exchange/internal/store"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (s *recordingSink) Send(_ context.Context, recipient, sender, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, notify.Message{Recipient: recipient, Sender: sender, Title: title, Body: body})
	return s.err
}

func TestFanout_SendsToEverySinkAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("mailbox full")}

	err := notify.Fanout{bad, ok}.Send(context.Background(), "alice", notify.SenderExchange, "hi", "there")
	if err == nil || !errors.Is(err, bad.err) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.msgs) != 1 || len(bad.msgs) != 1 {
		t.Errorf("every sink should receive the notice: ok=%d bad=%d", len(ok.msgs), len(bad.msgs))
	}
}

func TestDeliver_SwallowsFailures(t *testing.T) {
	bad := &recordingSink{err: errors.New("down")}
	notify.Deliver(context.Background(), bad,
		notify.Message{Recipient: "a", Title: "one"},
		notify.Message{Recipient: "b", Title: "two"},
	)
	if len(bad.msgs) != 2 {
		t.Errorf("a failed send should not stop later sends, got %d", len(bad.msgs))
	}

	notify.Deliver(context.Background(), nil, notify.Message{Recipient: "a"})
}

func TestStoreSink_PersistsNotice(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	sink := notify.NewStoreSink(ms, clock.NewFake(now))

	if err := sink.Send(context.Background(), "alice", notify.SenderExchange, "Bean(s) Sold", "5 beans"); err != nil {
		t.Fatalf("send: %v", err)
	}

	notices, err := ms.ListNotices(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list notices: %v", err)
	}
	if len(notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(notices))
	}
	n := notices[0]
	if n.Sender != notify.SenderExchange || n.Title != "Bean(s) Sold" || !n.NoticeDate.Equal(now) || n.Read {
		t.Errorf("unexpected notice: %+v", n)
	}
}

type fakeProducer struct {
	msgs []*kafka.Message
	err  error
}

func (p *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestKafkaSink_KeysByRecipient(t *testing.T) {
	p := &fakeProducer{}
	sink := notify.NewKafkaSink(p, "bean_notices")

	if err := sink.Send(context.Background(), "bob", "alice", "Bean Purchase Successful", "3 beans"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(p.msgs))
	}

	m := p.msgs[0]
	if *m.TopicPartition.Topic != "bean_notices" {
		t.Errorf("topic = %s", *m.TopicPartition.Topic)
	}
	if string(m.Key) != "bob" {
		t.Errorf("key = %s, want bob", m.Key)
	}

	var got notify.Message
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got.Recipient != "bob" || got.Sender != "alice" || got.Title != "Bean Purchase Successful" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestKafkaSink_ProduceError(t *testing.T) {
	p := &fakeProducer{err: kafka.NewError(kafka.ErrQueueFull, "queue full", false)}
	sink := notify.NewKafkaSink(p, "bean_notices")

	if err := sink.Send(context.Background(), "bob", "x", "t", "b"); err == nil {
		t.Error("expected produce error to surface from Send")
	}
}
