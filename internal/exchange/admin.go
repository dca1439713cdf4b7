package exchange

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
)

// ListCommodity creates a new commodity whose whole supply starts in the
// pool.
func (d *Desk) ListCommodity(ctx context.Context, name string, price decimal.Decimal, total int64) (*model.Commodity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.Invalid, "name is required")
	}
	if !price.IsPositive() {
		return nil, apperr.Newf(apperr.Invalid, "price must be positive, got %s", price)
	}
	if total <= 0 {
		return nil, apperr.Newf(apperr.Invalid, "total quantity must be positive, got %d", total)
	}

	c := &model.Commodity{
		ID:            uuid.NewString(),
		Name:          name,
		Price:         price,
		TotalQuantity: total,
		PoolHeld:      total,
	}
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCommodity(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("commodity listed", "commodity", c.ID, "name", name, "price", price.String(), "total", total)
	return c, nil
}

// OpenAccount creates the ledger record of a trader with a starting
// balance. Identity lives elsewhere; id is the external user id.
func (d *Desk) OpenAccount(ctx context.Context, id, displayName string, balance decimal.Decimal) (*model.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.New(apperr.Invalid, "user id is required")
	}
	if balance.IsNegative() {
		return nil, apperr.Newf(apperr.Invalid, "balance must not be negative, got %s", balance)
	}

	u := &model.User{ID: id, DisplayName: displayName, Balance: balance}
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("account opened", "user", id, "balance", balance.String())
	return u, nil
}
