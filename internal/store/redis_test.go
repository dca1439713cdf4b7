package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/model"
)

// An unreachable Redis must degrade to the primary store, never fail reads
// or writes.
func TestCachedStore_RedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	primary := NewMemoryStore()
	cs := NewCachedStore(primary, rdb, time.Minute, 0)
	ctx := context.Background()

	err := cs.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertUser(ctx, &model.User{ID: "u", Balance: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		return tx.InsertCommodity(ctx, &model.Commodity{ID: "c", Name: "c", Price: decimal.NewFromInt(2), TotalQuantity: 5, PoolHeld: 5})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	u, err := cs.GetUser(ctx, "u")
	if err != nil || !u.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("get user = %+v, %v", u, err)
	}
	if u.Version != 1 {
		t.Errorf("version = %d, want 1", u.Version)
	}

	err = cs.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertPriceTick(ctx, &model.PriceTick{
			ID: "t", CommodityID: "c", TickDate: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
			Open: decimal.NewFromInt(2), Close: decimal.NewFromInt(3), Delta: decimal.NewFromInt(1),
			Tier: model.TierNormal,
		})
	})
	if err != nil {
		t.Fatalf("insert tick: %v", err)
	}
	ticks, err := cs.ListPriceTicks(ctx, "c", time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC))
	if err != nil || len(ticks) != 1 {
		t.Errorf("ticks = %v, %v; want the tick on the since day", ticks, err)
	}
}

func TestCacheKeys(t *testing.T) {
	if userKey("a") != "user:a" || commodityKey("b") != "commodity:b" || ticksKey("c") != "ticks:c" {
		t.Error("unexpected cache key layout")
	}
}

// racingStore runs during once, after the primary read and before the cached
// store gets to fill the cache with what it read.
type racingStore struct {
	Store
	during func()
}

func (s *racingStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.Store.GetUser(ctx, id)
	if s.during != nil {
		during := s.during
		s.during = nil
		during()
	}
	return u, err
}

// A read that loaded a row before a commit must not put it back in the cache
// after the commit invalidated it.
func TestCachedStore_StaleFillLosesToCommit(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Del(ctx, userKey("race")).Err(); err != nil {
		t.Fatalf("redis: %v", err)
	}

	primary := &racingStore{Store: NewMemoryStore()}
	cs := NewCachedStore(primary, rdb, time.Minute, time.Minute)
	err := cs.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertUser(ctx, &model.User{ID: "race", Balance: decimal.NewFromInt(10)})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	primary.during = func() {
		err := cs.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			u, err := tx.GetUser(ctx, "race")
			if err != nil {
				return err
			}
			u.Balance = decimal.NewFromInt(25)
			return tx.UpdateUser(ctx, u)
		})
		if err != nil {
			t.Errorf("update: %v", err)
		}
	}
	if stale, err := cs.GetUser(ctx, "race"); err != nil || !stale.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("racing read = %+v, %v; want the pre-commit row", stale, err)
	}

	u, err := cs.GetUser(ctx, "race")
	if err != nil {
		t.Fatal(err)
	}
	if !u.Balance.Equal(decimal.NewFromInt(25)) {
		t.Errorf("balance = %s after commit, want 25", u.Balance)
	}
}

func TestCachedStore_TombstoneIsAMiss(t *testing.T) {
	var u model.User
	if err := json.Unmarshal([]byte(tombstone), &u); err == nil {
		t.Error("tombstone must not decode as a cached row")
	}
}
