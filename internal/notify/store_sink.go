package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
)

// StoreSink persists notices in the ledger's notice table, where users read
// them back through the inbox endpoint.
type StoreSink struct {
	store store.Store
	clock clock.Clock
}

func NewStoreSink(s store.Store, c clock.Clock) *StoreSink {
	return &StoreSink{store: s, clock: c}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, recipient, sender, title, body string) error {
	n := &model.Notice{
		ID:         uuid.NewString(),
		UserID:     recipient,
		Sender:     sender,
		NoticeDate: s.clock.Now(),
		Title:      title,
		Body:       body,
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertNotice(ctx, n)
	})
}
