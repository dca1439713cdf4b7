package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions take the write lock for their whole duration and work on a
// staged copy of the state, which replaces the live state only on commit.
// That makes every transaction serializable.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users       map[string]model.User
	commodities map[string]model.Commodity
	lots        map[string]model.Lot
	offers      map[string]model.Offer
	settlements []model.Settlement
	ticks       map[tickKey]model.PriceTick
	notices     []model.Notice
}

type tickKey struct {
	commodityID string
	day         time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		users:       make(map[string]model.User),
		commodities: make(map[string]model.Commodity),
		lots:        make(map[string]model.Lot),
		offers:      make(map[string]model.Offer),
		ticks:       make(map[tickKey]model.PriceTick),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.commodities {
		c.commodities[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	for k, v := range s.ticks {
		c.ticks[k] = v
	}
	c.settlements = append([]model.Settlement(nil), s.settlements...)
	c.notices = append([]model.Notice(nil), s.notices...)
	return c
}

// WithinTx runs fn against a staged copy of the state.
func (s *MemoryStore) WithinTx(ctx context.Context, fn TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.Wrap(err, "begin transaction")
	}

	staged := s.state.clone()
	if err := fn(ctx, &memTx{state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// --- Reads outside a transaction ---

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getUser(id)
}

func (s *MemoryStore) GetCommodity(_ context.Context, id string) (*model.Commodity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getCommodity(id)
}

func (s *MemoryStore) ListCommodities(_ context.Context) ([]model.Commodity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listCommodities(), nil
}

func (s *MemoryStore) GetLot(_ context.Context, id string) (*model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getLot(id)
}

func (s *MemoryStore) ListLots(_ context.Context, userID, commodityID string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listLots(userID, commodityID), nil
}

func (s *MemoryStore) ListCommodityLots(_ context.Context, commodityID string) ([]model.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listLots("", commodityID), nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (*model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getOffer(id)
}

func (s *MemoryStore) ListOffers(_ context.Context, filter model.OfferFilter) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listOffers(filter), nil
}

func (s *MemoryStore) ListSettlements(_ context.Context, filter model.SettlementFilter) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listSettlements(filter), nil
}

func (s *MemoryStore) GetPriceTick(_ context.Context, commodityID string, date time.Time) (*model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getPriceTick(commodityID, date)
}

func (s *MemoryStore) ListPriceTicks(_ context.Context, commodityID string, since time.Time) ([]model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listPriceTicks(commodityID, since), nil
}

func (s *MemoryStore) LatestPriceTick(_ context.Context, commodityID string) (*model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.latestPriceTick(commodityID)
}

func (s *MemoryStore) ListNotices(_ context.Context, userID string) ([]model.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listNotices(userID), nil
}

// --- memState accessors (caller holds the lock) ---

func (s *memState) getUser(id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "user %s not found", id)
	}
	return &u, nil
}

func (s *memState) getCommodity(id string) (*model.Commodity, error) {
	c, ok := s.commodities[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "commodity %s not found", id)
	}
	return &c, nil
}

func (s *memState) listCommodities() []model.Commodity {
	out := make([]model.Commodity, 0, len(s.commodities))
	for _, c := range s.commodities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *memState) getLot(id string) (*model.Lot, error) {
	l, ok := s.lots[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "lot %s not found", id)
	}
	return &l, nil
}

func (s *memState) listLots(userID, commodityID string) []model.Lot {
	var out []model.Lot
	for _, l := range s.lots {
		if userID != "" && l.UserID != userID {
			continue
		}
		if commodityID != "" && l.CommodityID != commodityID {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.Before(out[j].PurchaseDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memState) getOffer(id string) (*model.Offer, error) {
	o, ok := s.offers[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "offer %s not found", id)
	}
	return &o, nil
}

func (s *memState) listOffers(filter model.OfferFilter) []model.Offer {
	var out []model.Offer
	for _, o := range s.offers {
		if filter.Match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedDate.Equal(out[j].PostedDate) {
			return out[i].PostedDate.After(out[j].PostedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memState) listSettlements(filter model.SettlementFilter) []model.Settlement {
	var out []model.Settlement
	for _, st := range s.settlements {
		if filter.Match(st) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettleDate.Before(out[j].SettleDate) })
	return out
}

func (s *memState) getPriceTick(commodityID string, date time.Time) (*model.PriceTick, error) {
	t, ok := s.ticks[tickKey{commodityID, model.Day(date)}]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no price tick for %s on %s", commodityID, model.Day(date).Format(time.DateOnly))
	}
	return &t, nil
}

func (s *memState) listPriceTicks(commodityID string, since time.Time) []model.PriceTick {
	since = model.Day(since)
	var out []model.PriceTick
	for k, t := range s.ticks {
		if k.commodityID == commodityID && !k.day.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TickDate.Before(out[j].TickDate) })
	return out
}

func (s *memState) latestPriceTick(commodityID string) (*model.PriceTick, error) {
	var latest *model.PriceTick
	for k, t := range s.ticks {
		if k.commodityID != commodityID {
			continue
		}
		if latest == nil || t.TickDate.After(latest.TickDate) {
			t := t
			latest = &t
		}
	}
	if latest == nil {
		return nil, apperr.Newf(apperr.NotFound, "no price ticks for %s", commodityID)
	}
	return latest, nil
}

func (s *memState) listNotices(userID string) []model.Notice {
	var out []model.Notice
	for i := len(s.notices) - 1; i >= 0; i-- {
		if s.notices[i].UserID == userID {
			out = append(out, s.notices[i])
		}
	}
	return out
}

// memTx is a transaction over a staged memState. The owning MemoryStore
// holds the write lock for the transaction's lifetime.
type memTx struct {
	state *memState
}

func (t *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	return t.state.getUser(id)
}

func (t *memTx) GetCommodity(_ context.Context, id string) (*model.Commodity, error) {
	return t.state.getCommodity(id)
}

func (t *memTx) ListCommodities(_ context.Context) ([]model.Commodity, error) {
	return t.state.listCommodities(), nil
}

func (t *memTx) GetLot(_ context.Context, id string) (*model.Lot, error) {
	return t.state.getLot(id)
}

func (t *memTx) ListLots(_ context.Context, userID, commodityID string) ([]model.Lot, error) {
	return t.state.listLots(userID, commodityID), nil
}

func (t *memTx) ListCommodityLots(_ context.Context, commodityID string) ([]model.Lot, error) {
	return t.state.listLots("", commodityID), nil
}

func (t *memTx) GetOffer(_ context.Context, id string) (*model.Offer, error) {
	return t.state.getOffer(id)
}

func (t *memTx) ListOffers(_ context.Context, filter model.OfferFilter) ([]model.Offer, error) {
	return t.state.listOffers(filter), nil
}

func (t *memTx) ListSettlements(_ context.Context, filter model.SettlementFilter) ([]model.Settlement, error) {
	return t.state.listSettlements(filter), nil
}

func (t *memTx) GetPriceTick(_ context.Context, commodityID string, date time.Time) (*model.PriceTick, error) {
	return t.state.getPriceTick(commodityID, date)
}

func (t *memTx) ListPriceTicks(_ context.Context, commodityID string, since time.Time) ([]model.PriceTick, error) {
	return t.state.listPriceTicks(commodityID, since), nil
}

func (t *memTx) LatestPriceTick(_ context.Context, commodityID string) (*model.PriceTick, error) {
	return t.state.latestPriceTick(commodityID)
}

func (t *memTx) ListNotices(_ context.Context, userID string) ([]model.Notice, error) {
	return t.state.listNotices(userID), nil
}

func (t *memTx) InsertUser(_ context.Context, u *model.User) error {
	if _, ok := t.state.users[u.ID]; ok {
		return apperr.Newf(apperr.Duplicate, "user %s already exists", u.ID)
	}
	u.Version = 1
	t.state.users[u.ID] = *u
	return nil
}

func (t *memTx) UpdateUser(_ context.Context, u *model.User) error {
	cur, ok := t.state.users[u.ID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "user %s not found", u.ID)
	}
	if cur.Version != u.Version {
		return apperr.Newf(apperr.Conflict, "user %s was modified concurrently", u.ID)
	}
	u.Version++
	t.state.users[u.ID] = *u
	return nil
}

func (t *memTx) InsertCommodity(_ context.Context, c *model.Commodity) error {
	for _, existing := range t.state.commodities {
		if existing.ID == c.ID || existing.Name == c.Name {
			return apperr.Newf(apperr.Duplicate, "commodity %s already exists", c.Name)
		}
	}
	c.Version = 1
	t.state.commodities[c.ID] = *c
	return nil
}

func (t *memTx) UpdateCommodity(_ context.Context, c *model.Commodity) error {
	cur, ok := t.state.commodities[c.ID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "commodity %s not found", c.ID)
	}
	if cur.Version != c.Version {
		return apperr.Newf(apperr.Conflict, "commodity %s was modified concurrently", c.ID)
	}
	c.Version++
	t.state.commodities[c.ID] = *c
	return nil
}

func (t *memTx) InsertLot(_ context.Context, l *model.Lot) error {
	if _, ok := t.state.lots[l.ID]; ok {
		return apperr.Newf(apperr.Duplicate, "lot %s already exists", l.ID)
	}
	l.Version = 1
	t.state.lots[l.ID] = *l
	return nil
}

func (t *memTx) UpdateLot(_ context.Context, l *model.Lot) error {
	cur, ok := t.state.lots[l.ID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "lot %s not found", l.ID)
	}
	if cur.Version != l.Version {
		return apperr.Newf(apperr.Conflict, "lot %s was modified concurrently", l.ID)
	}
	l.Version++
	t.state.lots[l.ID] = *l
	return nil
}

func (t *memTx) DeleteLot(_ context.Context, id string) error {
	if _, ok := t.state.lots[id]; !ok {
		return apperr.Newf(apperr.NotFound, "lot %s not found", id)
	}
	delete(t.state.lots, id)
	return nil
}

func (t *memTx) InsertOffer(_ context.Context, o *model.Offer) error {
	if _, ok := t.state.offers[o.ID]; ok {
		return apperr.Newf(apperr.Duplicate, "offer %s already exists", o.ID)
	}
	o.Version = 1
	t.state.offers[o.ID] = *o
	return nil
}

func (t *memTx) UpdateOffer(_ context.Context, o *model.Offer) error {
	cur, ok := t.state.offers[o.ID]
	if !ok {
		return apperr.Newf(apperr.NotFound, "offer %s not found", o.ID)
	}
	if cur.Version != o.Version {
		return apperr.Newf(apperr.Conflict, "offer %s was modified concurrently", o.ID)
	}
	o.Version++
	t.state.offers[o.ID] = *o
	return nil
}

func (t *memTx) DeleteOffer(_ context.Context, id string) error {
	if _, ok := t.state.offers[id]; !ok {
		return apperr.Newf(apperr.NotFound, "offer %s not found", id)
	}
	delete(t.state.offers, id)
	return nil
}

func (t *memTx) InsertSettlement(_ context.Context, st *model.Settlement) error {
	t.state.settlements = append(t.state.settlements, *st)
	return nil
}

func (t *memTx) InsertPriceTick(_ context.Context, pt *model.PriceTick) error {
	key := tickKey{pt.CommodityID, model.Day(pt.TickDate)}
	if _, ok := t.state.ticks[key]; ok {
		return apperr.Newf(apperr.Duplicate, "price tick for %s on %s already exists",
			pt.CommodityID, key.day.Format(time.DateOnly))
	}
	pt.TickDate = key.day
	t.state.ticks[key] = *pt
	return nil
}

func (t *memTx) InsertNotice(_ context.Context, n *model.Notice) error {
	t.state.notices = append(t.state.notices, *n)
	return nil
}
