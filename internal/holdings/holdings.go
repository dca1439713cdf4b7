// Package holdings picks which lots a disposal consumes and computes the
// cost basis of a user's position in a commodity.
package holdings

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
)

// Ordering is the lot consumption policy.
type Ordering int

const (
	OldestFirst Ordering = iota
	NewestFirst
)

// OrderingOf maps the oldestFirst flag used on the wire to an Ordering.
func OrderingOf(oldestFirst bool) Ordering {
	if oldestFirst {
		return OldestFirst
	}
	return NewestFirst
}

func (o Ordering) String() string {
	if o == NewestFirst {
		return "newest_first"
	}
	return "oldest_first"
}

// Sort orders lots in place by purchase date according to o. Lots bought at
// the same instant are ordered by id so the result is deterministic.
func Sort(lots []model.Lot, o Ordering) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			if o == NewestFirst {
				return a.PurchaseDate.After(b.PurchaseDate)
			}
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		return a.ID < b.ID
	})
}

// Select returns, in consumption order, the ids of the fewest lots whose
// quantities add up to at least required. The last lot may only be
// partially consumed.
func Select(lots []model.Lot, o Ordering, required int64) ([]string, error) {
	if required <= 0 {
		return nil, apperr.Newf(apperr.Invalid, "required quantity must be positive, got %d", required)
	}

	sorted := append([]model.Lot(nil), lots...)
	Sort(sorted, o)

	var (
		ids []string
		sum int64
	)
	for _, l := range sorted {
		if sum >= required {
			break
		}
		ids = append(ids, l.ID)
		sum += l.Quantity
	}
	if sum < required {
		return nil, apperr.Newf(apperr.InsufficientHoldings,
			"holds %d, needs %d", sum, required)
	}
	return ids, nil
}

// Total is the summed quantity of lots.
func Total(lots []model.Lot) int64 {
	var n int64
	for _, l := range lots {
		n += l.Quantity
	}
	return n
}

// Basis computes the cost basis of a set of lots: the unit cost of a single
// lot, or the quantity-weighted average across several.
func Basis(lots []model.Lot) model.CostBasis {
	switch len(lots) {
	case 0:
		return model.CostBasis{Kind: model.BasisNoHoldings, Basis: decimal.Zero}
	case 1:
		return model.CostBasis{Kind: model.BasisSingle, Basis: lots[0].UnitCost}
	}

	cost := decimal.Zero
	var qty int64
	for _, l := range lots {
		cost = cost.Add(l.Cost())
		qty += l.Quantity
	}
	if qty == 0 {
		return model.CostBasis{Kind: model.BasisNoHoldings, Basis: decimal.Zero}
	}
	return model.CostBasis{Kind: model.BasisAverage, Basis: cost.Div(decimal.NewFromInt(qty))}
}
