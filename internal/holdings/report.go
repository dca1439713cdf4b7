package holdings

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
)

// Cost is the total acquisition cost of lots.
func Cost(lots []model.Lot) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lots {
		sum = sum.Add(l.Cost())
	}
	return sum
}

// Realized sums the gain or loss of settlements.
func Realized(settlements []model.Settlement) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range settlements {
		sum = sum.Add(s.GainOrLoss())
	}
	return sum
}

// DayRange turns calendar days into an inclusive settle-date filter range.
// A zero bound stays open.
func DayRange(from, to time.Time) (time.Time, time.Time, error) {
	if !from.IsZero() {
		from = model.Day(from)
	}
	if !to.IsZero() {
		to = model.Day(to).AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, apperr.Newf(apperr.Invalid, "range ends %s before it starts %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return from, to, nil
}

// ProfitOrLoss is the realized gain or loss of a user's sales. An empty
// commodityID covers every commodity; from and to are calendar days,
// inclusive, and a zero bound leaves the range open.
func ProfitOrLoss(ctx context.Context, r store.Reader, userID, commodityID string, from, to time.Time) (decimal.Decimal, error) {
	settlements, err := Settlements(ctx, r, userID, commodityID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return Realized(settlements), nil
}

// Settlements returns a user's settlements, optionally narrowed to one
// commodity and a calendar-day range.
func Settlements(ctx context.Context, r store.Reader, userID, commodityID string, from, to time.Time) ([]model.Settlement, error) {
	since, until, err := DayRange(from, to)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if commodityID != "" {
		if _, err := r.GetCommodity(ctx, commodityID); err != nil {
			return nil, err
		}
	}
	return r.ListSettlements(ctx, model.SettlementFilter{
		UserID:      userID,
		CommodityID: commodityID,
		Since:       since,
		Until:       until,
	})
}

// RecentSince is the first calendar day of the last days days ending on
// now. days <= 0 means no bound.
func RecentSince(now time.Time, days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return model.Day(now).AddDate(0, 0, -(days - 1))
}

// Portfolio totals a user's holdings and realized results.
type Portfolio struct {
	UserID     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	Positions  []Position      `json:"positions"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	TotalValue decimal.Decimal `json:"total_value"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Realized   decimal.Decimal `json:"realized"`
}

// PortfolioOf builds the user's portfolio at current prices.
func PortfolioOf(ctx context.Context, r store.Reader, userID string) (*Portfolio, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := Positions(ctx, r, userID)
	if err != nil {
		return nil, err
	}
	settlements, err := r.ListSettlements(ctx, model.SettlementFilter{UserID: userID})
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		UserID:     u.ID,
		Balance:    u.Balance,
		Positions:  positions,
		TotalCost:  decimal.Zero,
		TotalValue: decimal.Zero,
		Realized:   Realized(settlements),
	}
	for _, pos := range positions {
		p.TotalCost = p.TotalCost.Add(pos.TotalCost)
		p.TotalValue = p.TotalValue.Add(pos.MarketValue)
	}
	p.Unrealized = p.TotalValue.Sub(p.TotalCost)
	return p, nil
}

// Capitalization is the market value of one commodity's supply, or of every
// commodity when commodityID is empty.
func Capitalization(ctx context.Context, r store.Reader, commodityID string) (decimal.Decimal, error) {
	if commodityID != "" {
		c, err := r.GetCommodity(ctx, commodityID)
		if err != nil {
			return decimal.Zero, err
		}
		return c.Capitalization(), nil
	}
	cs, err := r.ListCommodities(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, c := range cs {
		sum = sum.Add(c.Capitalization())
	}
	return sum, nil
}
