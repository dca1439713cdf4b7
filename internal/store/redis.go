package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/bean-exchange/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and, once the transaction commits,
// replace each touched key with a tombstone for hold. Reads check Redis first
// then fall back to the primary, and fill the cache with SET NX, so a read
// that loaded a row before the commit cannot overwrite the tombstone. A read
// slower than hold can still cache a stale row for up to ttl.
//
// Only reads outside a transaction are cached. Reads through a Tx always hit
// the primary so that they take row locks.
type CachedStore struct {
	Store
	rdb  *redis.Client
	ttl  time.Duration
	hold time.Duration
}

// DefaultInvalidationHold is how long a tombstone blocks refills of a key
// written by a committed transaction.
const DefaultInvalidationHold = 5 * time.Second

// tombstone marks a key invalidated by a commit. It is not valid JSON.
const tombstone = "\x00invalidated"

// NewCachedStore creates a cached wrapper around a primary store. hold <= 0
// means DefaultInvalidationHold.
func NewCachedStore(primary Store, rdb *redis.Client, ttl, hold time.Duration) *CachedStore {
	if hold <= 0 {
		hold = DefaultInvalidationHold
	}
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
		hold:  hold,
	}
}

// --- Write-through (write to primary, tombstone after commit) ---

func (s *CachedStore) WithinTx(ctx context.Context, fn TxFunc) error {
	ct := &cachedTx{}
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ct.Tx = tx
		ct.keys = ct.keys[:0]
		return fn(ctx, ct)
	})
	if err != nil {
		return err
	}
	if len(ct.keys) > 0 {
		s.invalidate(ctx, ct.keys)
	}
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, keys []string) {
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			p.Set(ctx, key, tombstone, s.hold)
		}
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

// cachedTx records the cache keys a transaction touches.
type cachedTx struct {
	Tx
	keys []string
}

func (t *cachedTx) touch(key string) { t.keys = append(t.keys, key) }

func (t *cachedTx) InsertUser(ctx context.Context, u *model.User) error {
	t.touch(userKey(u.ID))
	return t.Tx.InsertUser(ctx, u)
}

func (t *cachedTx) UpdateUser(ctx context.Context, u *model.User) error {
	t.touch(userKey(u.ID))
	return t.Tx.UpdateUser(ctx, u)
}

func (t *cachedTx) InsertCommodity(ctx context.Context, c *model.Commodity) error {
	t.touch(commodityKey(c.ID))
	return t.Tx.InsertCommodity(ctx, c)
}

func (t *cachedTx) UpdateCommodity(ctx context.Context, c *model.Commodity) error {
	t.touch(commodityKey(c.ID))
	return t.Tx.UpdateCommodity(ctx, c)
}

func (t *cachedTx) InsertPriceTick(ctx context.Context, pt *model.PriceTick) error {
	t.touch(ticksKey(pt.CommodityID))
	return t.Tx.InsertPriceTick(ctx, pt)
}

// --- Read-through (check cache first) ---

// The model types hide Version from JSON; the cache needs it so that a cached
// row can still be used for an optimistic update.
type cachedUser struct {
	model.User
	Version int64 `json:"version"`
}

type cachedCommodity struct {
	model.Commodity
	Version int64 `json:"version"`
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var cu cachedUser
	if s.get(ctx, userKey(id), &cu) {
		cu.User.Version = cu.Version
		return &cu.User, nil
	}

	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, userKey(id), cachedUser{User: *u, Version: u.Version})
	return u, nil
}

func (s *CachedStore) GetCommodity(ctx context.Context, id string) (*model.Commodity, error) {
	var cc cachedCommodity
	if s.get(ctx, commodityKey(id), &cc) {
		cc.Commodity.Version = cc.Version
		return &cc.Commodity, nil
	}

	c, err := s.Store.GetCommodity(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, commodityKey(id), cachedCommodity{Commodity: *c, Version: c.Version})
	return c, nil
}

// ListPriceTicks caches the full history of a commodity and filters it.
func (s *CachedStore) ListPriceTicks(ctx context.Context, commodityID string, since time.Time) ([]model.PriceTick, error) {
	var ticks []model.PriceTick
	if !s.get(ctx, ticksKey(commodityID), &ticks) {
		var err error
		ticks, err = s.Store.ListPriceTicks(ctx, commodityID, time.Time{})
		if err != nil {
			return nil, err
		}
		s.set(ctx, ticksKey(commodityID), ticks)
	}

	since = model.Day(since)
	out := ticks[:0:0]
	for _, t := range ticks {
		if !t.TickDate.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil || string(data) == tombstone {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// set fills key only if it is absent; a live tombstone wins.
func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.SetNX(ctx, key, data, s.ttl)
	}
}

func userKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func commodityKey(id string) string {
	return fmt.Sprintf("commodity:%s", id)
}

func ticksKey(id string) string {
	return fmt.Sprintf("ticks:%s", id)
}
