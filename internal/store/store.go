// Package store defines the persistence interface for the exchange ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/atmx/bean-exchange/internal/model"
)

// Reader is the read side of the ledger. Missing rows are reported as
// apperr NotFound.
type Reader interface {
	// --- Users and commodities ---

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetCommodity(ctx context.Context, id string) (*model.Commodity, error)
	ListCommodities(ctx context.Context) ([]model.Commodity, error)

	// --- Lots ---

	GetLot(ctx context.Context, id string) (*model.Lot, error)

	// ListLots returns a user's lots ordered by purchase date ascending.
	// An empty commodityID returns lots of every commodity.
	ListLots(ctx context.Context, userID, commodityID string) ([]model.Lot, error)

	// ListCommodityLots returns every user's lots of one commodity.
	ListCommodityLots(ctx context.Context, commodityID string) ([]model.Lot, error)

	// --- Offers ---

	GetOffer(ctx context.Context, id string) (*model.Offer, error)

	// ListOffers returns live offers matching the filter, newest first.
	ListOffers(ctx context.Context, filter model.OfferFilter) ([]model.Offer, error)

	// --- Immutable history ---

	// ListSettlements returns settlements matching the filter, oldest first.
	ListSettlements(ctx context.Context, filter model.SettlementFilter) ([]model.Settlement, error)
	GetPriceTick(ctx context.Context, commodityID string, date time.Time) (*model.PriceTick, error)

	// ListPriceTicks returns ticks on or after since, ordered by date ascending.
	ListPriceTicks(ctx context.Context, commodityID string, since time.Time) ([]model.PriceTick, error)
	LatestPriceTick(ctx context.Context, commodityID string) (*model.PriceTick, error)

	ListNotices(ctx context.Context, userID string) ([]model.Notice, error)
}

// Tx is one atomic unit of work. Reads through a Tx lock the rows they
// return until the transaction ends, so a validation read and the write that
// depends on it see the same state. Updates are checked against the row's
// Version; a stale version fails with apperr Conflict.
type Tx interface {
	Reader

	InsertUser(ctx context.Context, u *model.User) error
	UpdateUser(ctx context.Context, u *model.User) error

	InsertCommodity(ctx context.Context, c *model.Commodity) error
	UpdateCommodity(ctx context.Context, c *model.Commodity) error

	InsertLot(ctx context.Context, l *model.Lot) error
	UpdateLot(ctx context.Context, l *model.Lot) error
	DeleteLot(ctx context.Context, id string) error

	InsertOffer(ctx context.Context, o *model.Offer) error
	UpdateOffer(ctx context.Context, o *model.Offer) error
	DeleteOffer(ctx context.Context, id string) error

	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// InsertPriceTick fails with apperr Duplicate if a tick already exists
	// for the commodity and calendar date.
	InsertPriceTick(ctx context.Context, t *model.PriceTick) error

	InsertNotice(ctx context.Context, n *model.Notice) error
}

// TxFunc is the body of a transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// WithinTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise, including on panic.
	WithinTx(ctx context.Context, fn TxFunc) error
}
