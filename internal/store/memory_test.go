package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
	"github.com/atmx/bean-exchange/internal/store/storetest"
)

var day0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.User(t, ms, "alice", "100")

	ctx := context.Background()
	err := ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, "alice")
		if err != nil {
			return err
		}
		u.Balance = u.Balance.Sub(storetest.D("40"))
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	u, _ := ms.GetUser(ctx, "alice")
	if !u.Balance.Equal(storetest.D("60")) {
		t.Errorf("balance = %s, want 60", u.Balance)
	}
	if u.Version != 2 {
		t.Errorf("version = %d, want 2", u.Version)
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.User(t, ms, "alice", "100")

	ctx := context.Background()
	boom := errors.New("boom")
	err := ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, _ := tx.GetUser(ctx, "alice")
		u.Balance = decimal.Zero
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	u, _ := ms.GetUser(ctx, "alice")
	if !u.Balance.Equal(storetest.D("100")) {
		t.Errorf("balance = %s, want rollback to 100", u.Balance)
	}
}

func TestWithinTx_RollsBackOnPanic(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.User(t, ms, "alice", "100")
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			u, _ := tx.GetUser(ctx, "alice")
			u.Balance = decimal.Zero
			_ = tx.UpdateUser(ctx, u)
			panic("mid-transaction")
		})
	}()

	u, err := ms.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("store unusable after panic: %v", err)
	}
	if !u.Balance.Equal(storetest.D("100")) {
		t.Errorf("balance = %s, want 100", u.Balance)
	}
}

func TestUpdate_StaleVersionConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.Commodity(t, ms, "arabica", "2.50", 100)
	ctx := context.Background()

	stale, _ := ms.GetCommodity(ctx, "arabica")

	storetest.Tx(t, ms, func(ctx context.Context, tx store.Tx) error {
		c, _ := tx.GetCommodity(ctx, "arabica")
		c.Price = storetest.D("3")
		return tx.UpdateCommodity(ctx, c)
	})

	err := ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		stale.Price = storetest.D("1")
		return tx.UpdateCommodity(ctx, stale)
	})
	if apperr.CodeOf(err) != apperr.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGet_MissingIsNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetLot(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetLot: expected not found, got %v", err)
	}
	if _, err := ms.LatestPriceTick(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("LatestPriceTick: expected not found, got %v", err)
	}
}

func TestInsertPriceTick_OnePerDay(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.Commodity(t, ms, "arabica", "2.50", 100)
	ctx := context.Background()

	insert := func(at time.Time) error {
		return ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertPriceTick(ctx, &model.PriceTick{
				ID: at.String(), CommodityID: "arabica", TickDate: at,
				Open: storetest.D("2.5"), Close: storetest.D("2.6"), Delta: storetest.D("0.1"),
			})
		})
	}

	if err := insert(day0); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(day0.Add(6 * time.Hour)); apperr.CodeOf(err) != apperr.Duplicate {
		t.Errorf("same-day insert: expected duplicate, got %v", err)
	}
	if err := insert(day0.AddDate(0, 0, 1)); err != nil {
		t.Errorf("next-day insert: %v", err)
	}

	ticks, _ := ms.ListPriceTicks(ctx, "arabica", time.Time{})
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if !ticks[0].TickDate.Equal(model.Day(day0)) {
		t.Errorf("tick date not truncated: %s", ticks[0].TickDate)
	}
	if !ticks[0].TickDate.Before(ticks[1].TickDate) {
		t.Error("ticks not ordered ascending")
	}
}

func TestListLots_OrderedByPurchaseDate(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.User(t, ms, "alice", "0")
	storetest.Commodity(t, ms, "arabica", "2", 100)
	storetest.Commodity(t, ms, "robusta", "1", 100)

	late := storetest.Lot(t, ms, "alice", "arabica", 5, "2", day0.AddDate(0, 0, 2))
	early := storetest.Lot(t, ms, "alice", "arabica", 3, "1", day0)
	storetest.Lot(t, ms, "alice", "robusta", 1, "1", day0)

	lots, err := ms.ListLots(context.Background(), "alice", "arabica")
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 2 {
		t.Fatalf("expected 2 arabica lots, got %d", len(lots))
	}
	if lots[0].ID != early.ID || lots[1].ID != late.ID {
		t.Errorf("unexpected order: %s, %s", lots[0].ID, lots[1].ID)
	}

	all, _ := ms.ListLots(context.Background(), "alice", "")
	if len(all) != 3 {
		t.Errorf("expected 3 lots across commodities, got %d", len(all))
	}

	storetest.AssertInvariants(t, ms)
}

func TestCheckInvariants_ReportsDrift(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.User(t, ms, "alice", "0")
	storetest.Commodity(t, ms, "arabica", "2", 100)

	// A lot inserted without moving beans out of the pool.
	storetest.Tx(t, ms, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertLot(ctx, &model.Lot{
			ID: "rogue", UserID: "alice", CommodityID: "arabica",
			PurchaseDate: day0, Quantity: 7, UnitCost: storetest.D("1"),
		})
	})

	violations, err := store.CheckInvariants(context.Background(), ms)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(violations) != 1 || violations[0].Rule != "lots_match_user_held" {
		t.Errorf("unexpected violations: %+v", violations)
	}
}

func TestReads_ReturnCopies(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.Commodity(t, ms, "arabica", "2", 100)
	ctx := context.Background()

	c, _ := ms.GetCommodity(ctx, "arabica")
	c.PoolHeld = 0

	again, _ := ms.GetCommodity(ctx, "arabica")
	if again.PoolHeld != 100 {
		t.Errorf("mutating a read leaked into the store: pool = %d", again.PoolHeld)
	}
}

func TestListSettlements_Filter(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	storetest.User(t, ms, "u", "0")
	storetest.User(t, ms, "v", "0")
	storetest.Commodity(t, ms, "c1", "1", 10)
	storetest.Commodity(t, ms, "c2", "1", 10)

	storetest.Settlement(t, ms, "u", "c1", 1, "1", "2", day0.AddDate(0, 0, 2))
	storetest.Settlement(t, ms, "u", "c2", 1, "1", "2", day0.AddDate(0, 0, 1))
	storetest.Settlement(t, ms, "u", "c1", 1, "1", "2", day0)
	storetest.Settlement(t, ms, "v", "c1", 1, "1", "2", day0)

	tests := []struct {
		name   string
		filter model.SettlementFilter
		want   int
	}{
		{"user", model.SettlementFilter{UserID: "u"}, 3},
		{"user and commodity", model.SettlementFilter{UserID: "u", CommodityID: "c1"}, 2},
		{"since is inclusive", model.SettlementFilter{UserID: "u", Since: day0.AddDate(0, 0, 1)}, 2},
		{"until is inclusive", model.SettlementFilter{UserID: "u", Until: day0.AddDate(0, 0, 1)}, 2},
		{"window", model.SettlementFilter{UserID: "u", Since: day0.AddDate(0, 0, 1), Until: day0.AddDate(0, 0, 1)}, 1},
		{"commodity across users", model.SettlementFilter{CommodityID: "c1"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ms.ListSettlements(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListSettlements: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d settlements, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].SettleDate.Before(got[i-1].SettleDate) {
					t.Errorf("settlements not ordered oldest first: %v", got)
				}
			}
		})
	}
}
