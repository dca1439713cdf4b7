// Package storetest seeds ledgers for tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
)

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Tx runs fn in a transaction and fails the test on error.
func Tx(t testing.TB, s store.Store, fn store.TxFunc) {
	t.Helper()
	if err := s.WithinTx(context.Background(), fn); err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}
}

// User creates a user with the given balance.
func User(t testing.TB, s store.Store, id, balance string) *model.User {
	t.Helper()
	u := &model.User{ID: id, DisplayName: id, Balance: D(balance)}
	Tx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertUser(ctx, u)
	})
	return u
}

// Commodity creates a commodity whose whole supply sits in the pool.
func Commodity(t testing.TB, s store.Store, id, price string, total int64) *model.Commodity {
	t.Helper()
	c := &model.Commodity{
		ID:            id,
		Name:          id,
		Price:         D(price),
		TotalQuantity: total,
		PoolHeld:      total,
	}
	Tx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCommodity(ctx, c)
	})
	return c
}

// Lot moves qty beans of a commodity out of the pool into a new lot for the
// user, without touching the user's balance.
func Lot(t testing.TB, s store.Store, userID, commodityID string, qty int64, unitCost string, purchased time.Time) *model.Lot {
	t.Helper()
	l := &model.Lot{
		ID:           uuid.NewString(),
		UserID:       userID,
		CommodityID:  commodityID,
		PurchaseDate: purchased,
		Quantity:     qty,
		UnitCost:     D(unitCost),
	}
	Tx(t, s, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCommodity(ctx, commodityID)
		if err != nil {
			return err
		}
		c.PoolHeld -= qty
		c.UserHeld += qty
		if err := tx.UpdateCommodity(ctx, c); err != nil {
			return err
		}
		return tx.InsertLot(ctx, l)
	})
	return l
}

// AssertInvariants fails the test if any ledger invariant is broken.
func AssertInvariants(t testing.TB, r store.Reader) {
	t.Helper()
	violations, err := store.CheckInvariants(context.Background(), r)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	for _, v := range violations {
		t.Errorf("invariant %s broken for %s: %s", v.Rule, v.CommodityID, v.Detail)
	}
}

// Settlement records a past sale of qty beans bought at basis and sold at
// price, without touching balances or lots.
func Settlement(t testing.TB, s store.Store, userID, commodityID string, qty int64, basis, price string, settled time.Time) *model.Settlement {
	t.Helper()
	st := &model.Settlement{
		ID:                   uuid.NewString(),
		UserID:               userID,
		CommodityID:          commodityID,
		OriginalPurchaseDate: settled.AddDate(0, 0, -1),
		SettleDate:           settled,
		Quantity:             qty,
		CostBasis:            D(basis),
		SalePrice:            D(price),
	}
	Tx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSettlement(ctx, st)
	})
	return st
}
