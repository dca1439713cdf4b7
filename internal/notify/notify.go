// Package notify delivers user-facing notices about completed trades.
// Delivery is best effort: it happens after the trade has committed and a
// failure never undoes or fails the trade.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atmx/bean-exchange/internal/metrics"
)

// SenderExchange is the sender tag for notices originating from the
// exchange itself rather than another user.
const SenderExchange = "exchange"

// Sink delivers a single notice to a recipient.
type Sink interface {
	Send(ctx context.Context, recipient, sender, title, body string) error
}

// Message is one notice queued for delivery.
type Message struct {
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// Deliver sends every message through sink. Failures are logged and
// counted, never returned. A nil sink drops the messages.
func Deliver(ctx context.Context, sink Sink, msgs ...Message) {
	if sink == nil {
		return
	}
	for _, m := range msgs {
		if err := sink.Send(ctx, m.Recipient, m.Sender, m.Title, m.Body); err != nil {
			name := nameOf(sink)
			metrics.NotificationsFailed.WithLabelValues(name).Inc()
			slog.Warn("notification failed",
				"sink", name,
				"recipient", m.Recipient,
				"title", m.Title,
				"err", err,
			)
		}
	}
}

func nameOf(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}

// Fanout sends every notice to all of its sinks.
type Fanout []Sink

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Send(ctx context.Context, recipient, sender, title, body string) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, recipient, sender, title, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(s), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notices to the structured log. Used when no other sink is
// configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, recipient, sender, title, body string) error {
	slog.Info("notice", "recipient", recipient, "sender", sender, "title", title, "body", body)
	return nil
}
