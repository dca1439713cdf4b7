package pricing

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/model"
)

// History returns the commodity's ticks for the last days calendar days,
// oldest first. days <= 0 returns the whole history.
func (s *Simulator) History(ctx context.Context, commodityID string, days int) ([]model.PriceTick, error) {
	if _, err := s.store.GetCommodity(ctx, commodityID); err != nil {
		return nil, err
	}
	var since time.Time
	if days > 0 {
		since = model.Day(s.clock.Now()).AddDate(0, 0, -(days - 1))
	}
	return s.store.ListPriceTicks(ctx, commodityID, since)
}

// Latest returns the commodity's most recent tick.
func (s *Simulator) Latest(ctx context.Context, commodityID string) (*model.PriceTick, error) {
	return s.store.LatestPriceTick(ctx, commodityID)
}

// Stats describes the recent volatility of a commodity. Min, Average, Max
// and StdDev cover the non-zero deltas of the last Days ticks; Largest is
// the largest delta ever recorded.
type Stats struct {
	CommodityID string          `json:"commodity_id"`
	Days        int             `json:"days"`
	Ticks       int             `json:"ticks"`
	Min         decimal.Decimal `json:"min"`
	Average     decimal.Decimal `json:"average"`
	Max         decimal.Decimal `json:"max"`
	Largest     decimal.Decimal `json:"largest"`
	StdDev      decimal.Decimal `json:"std_dev"`
}

// Stats summarises the commodity's last days ticks.
func (s *Simulator) Stats(ctx context.Context, commodityID string, days int) (*Stats, error) {
	if _, err := s.store.GetCommodity(ctx, commodityID); err != nil {
		return nil, err
	}
	all, err := s.store.ListPriceTicks(ctx, commodityID, time.Time{})
	if err != nil {
		return nil, err
	}
	st := Summarize(all, days)
	st.CommodityID = commodityID
	return &st, nil
}

// Summarize computes Stats over ticks ordered oldest first.
func Summarize(ticks []model.PriceTick, days int) Stats {
	st := Stats{
		Days:    days,
		Min:     decimal.Zero,
		Average: decimal.Zero,
		Max:     decimal.Zero,
		Largest: decimal.Zero,
		StdDev:  decimal.Zero,
	}
	for i, t := range ticks {
		if i == 0 || t.Delta.GreaterThan(st.Largest) {
			st.Largest = t.Delta
		}
	}

	recent := ticks
	if days > 0 && len(recent) > days {
		recent = recent[len(recent)-days:]
	}
	var deltas []decimal.Decimal
	for _, t := range recent {
		if !t.Delta.IsZero() {
			deltas = append(deltas, t.Delta)
		}
	}
	st.Ticks = len(deltas)
	if len(deltas) == 0 {
		return st
	}

	st.Min = decimal.Min(deltas[0], deltas[1:]...)
	st.Max = decimal.Max(deltas[0], deltas[1:]...)
	st.Average = decimal.Avg(deltas[0], deltas[1:]...).Round(PricePlaces)
	st.StdDev = stdDev(deltas).Round(PricePlaces)
	return st
}

// stdDev is the sample standard deviation; zero for fewer than two values.
func stdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	mean := decimal.Avg(values[0], values[1:]...)
	sum := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sum = sum.Add(diff.Mul(diff))
	}
	variance, _ := sum.Div(decimal.NewFromInt(int64(len(values) - 1))).Float64()
	return decimal.NewFromFloat(math.Sqrt(variance))
}
