package pricing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/feed"
	"github.com/atmx/bean-exchange/internal/metrics"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
)

// MinimumPrice is the floor applied when the caller passes no positive
// minimum.
var MinimumPrice = decimal.RequireFromString("0.01")

// PricePlaces is the number of decimal places prices are kept to.
const PricePlaces = 4

// Config tunes the simulation.
type Config struct {
	Tiers  Tiers
	Normal Normal
}

// Simulator records one price movement per commodity per day.
type Simulator struct {
	store  store.Store
	clock  clock.Clock
	cfg    Config
	events feed.Publisher

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewSimulator creates a simulator. rng is the only source of randomness, so
// a seeded generator makes a run reproducible.
func NewSimulator(s store.Store, c clock.Clock, rng *rand.Rand, cfg Config, events feed.Publisher) *Simulator {
	if c == nil {
		c = clock.Real{}
	}
	if cfg.Tiers.Range <= 0 && len(cfg.Tiers.Breakpoints) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.Normal.Sigma == 0 && cfg.Normal.Mu == 0 {
		cfg.Normal = StandardNormal
	}
	return &Simulator{store: s, clock: c, rng: rng, cfg: cfg, events: events}
}

// NewRand returns a PCG generator seeded from seed, or from the current time
// when seed is zero.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type move struct {
	tier   model.Tier
	sample float64
}

func (s *Simulator) draw() move {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier := s.cfg.Tiers.Draw(s.rng)
	return move{tier: tier, sample: s.cfg.Normal.Sample(s.rng)}
}

// Floor returns the effective minimum price for minPrice.
func Floor(minPrice decimal.Decimal) decimal.Decimal {
	if !minPrice.IsPositive() {
		return MinimumPrice
	}
	return minPrice
}

// NextPrice applies a percentage sample scaled by multiplier to price and
// clamps the result at floor.
func NextPrice(price decimal.Decimal, sample float64, multiplier, floor decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat(sample).Div(decimal.NewFromInt(100))
	next := price.Add(price.Mul(pct).Mul(multiplier)).Round(PricePlaces)
	if next.LessThan(floor) {
		return floor
	}
	return next
}

// Advance records the price movement of a commodity for date's calendar day.
// A day that already has a tick is left unchanged and its tick returned.
func (s *Simulator) Advance(ctx context.Context, commodityID string, minPrice decimal.Decimal, date time.Time) (*model.PriceTick, error) {
	day := model.Day(date)
	floor := Floor(minPrice)

	var (
		tick    *model.PriceTick
		created bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetCommodity(ctx, commodityID)
		if err != nil {
			return err
		}
		existing, err := tx.GetPriceTick(ctx, commodityID, day)
		if err == nil {
			tick = existing
			return nil
		}
		if apperr.CodeOf(err) != apperr.NotFound {
			return err
		}

		m := s.draw()
		next := NextPrice(c.Price, m.sample, s.cfg.Tiers.Multiplier(m.tier), floor)
		tick = &model.PriceTick{
			ID:          uuid.NewString(),
			CommodityID: commodityID,
			TickDate:    day,
			Open:        c.Price,
			Close:       next,
			Delta:       next.Sub(c.Price),
			Tier:        m.tier,
		}
		if err := tx.InsertPriceTick(ctx, tick); err != nil {
			return err
		}
		c.Price = next
		if err := tx.UpdateCommodity(ctx, c); err != nil {
			return err
		}
		created = true
		return nil
	})
	if apperr.CodeOf(err) == apperr.Duplicate {
		// Another writer recorded the day first.
		return s.store.GetPriceTick(ctx, commodityID, day)
	}
	if err != nil {
		return nil, err
	}

	if created {
		metrics.PriceTicks.WithLabelValues(tick.Tier.String()).Inc()
		slog.Info("price moved",
			"commodity", commodityID,
			"date", day.Format(time.DateOnly),
			"tier", tick.Tier.String(),
			"open", tick.Open.String(),
			"close", tick.Close.String(),
		)
		feed.Publish(s.events, feed.Event{
			Type:        feed.TypePriceTick,
			CommodityID: commodityID,
			Open:        tick.Open.String(),
			Close:       tick.Close.String(),
			Price:       tick.Close.String(),
			Tier:        tick.Tier.String(),
			Date:        day.Format(time.DateOnly),
		})
	}
	return tick, nil
}

// CatchUp advances a commodity for every day from fromDate through today,
// skipping days that already have a tick. It stops at the first failure.
// It returns the number of ticks created.
func (s *Simulator) CatchUp(ctx context.Context, commodityID string, minPrice decimal.Decimal, fromDate time.Time) (int, error) {
	today := model.Day(s.clock.Now())
	created := 0
	for day := model.Day(fromDate); !day.After(today); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return created, apperr.Wrap(err, "catch up cancelled")
		}
		if _, err := s.store.GetPriceTick(ctx, commodityID, day); err == nil {
			continue
		} else if apperr.CodeOf(err) != apperr.NotFound {
			return created, err
		}
		if _, err := s.Advance(ctx, commodityID, minPrice, day); err != nil {
			slog.Error("catch up stopped",
				"commodity", commodityID,
				"date", day.Format(time.DateOnly),
				"err", err,
			)
			return created, err
		}
		created++
	}
	return created, nil
}

// CatchUpAll catches up every commodity, starting each one on the day after
// its latest tick, or at fallbackFrom when it has none. Failures are logged
// per commodity and the first one is returned after all have been tried.
func (s *Simulator) CatchUpAll(ctx context.Context, minPrice decimal.Decimal, fallbackFrom time.Time) (int, error) {
	commodities, err := s.store.ListCommodities(ctx)
	if err != nil {
		return 0, err
	}

	var (
		total    int
		firstErr error
	)
	for _, c := range commodities {
		from := fallbackFrom
		latest, err := s.store.LatestPriceTick(ctx, c.ID)
		switch {
		case err == nil:
			from = latest.TickDate.AddDate(0, 0, 1)
		case apperr.CodeOf(err) != apperr.NotFound:
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		n, err := s.CatchUp(ctx, c.ID, minPrice, from)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}
