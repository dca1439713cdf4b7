package holdings

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/store"
)

// SelectLots reads the user's lots of a commodity and selects the ones a
// disposal of required beans would consume. Called with a store.Tx, the
// lots stay locked until the transaction ends.
func SelectLots(ctx context.Context, r store.Reader, o Ordering, userID, commodityID string, required int64) ([]string, error) {
	lots, err := r.ListLots(ctx, userID, commodityID)
	if err != nil {
		return nil, err
	}
	return Select(lots, o, required)
}

// ComputeCostBasis returns the user's cost basis in a commodity.
func ComputeCostBasis(ctx context.Context, r store.Reader, userID, commodityID string) (model.CostBasis, error) {
	lots, err := r.ListLots(ctx, userID, commodityID)
	if err != nil {
		return model.CostBasis{}, err
	}
	return Basis(lots), nil
}

// Position summarises a user's holdings of one commodity against its
// current price.
type Position struct {
	CommodityID string              `json:"commodity_id"`
	Name        string              `json:"name"`
	Quantity    int64               `json:"quantity"`
	Lots        int                 `json:"lots"`
	CostBasis   model.CostBasis     `json:"cost_basis"`
	TotalCost   decimal.Decimal     `json:"total_cost"`
	Price       decimal.Decimal     `json:"price"`
	MarketValue decimal.Decimal     `json:"market_value"`
	GainPerUnit decimal.Decimal     `json:"gain_per_unit"`
	GainPercent decimal.NullDecimal `json:"gain_percent"`
}

// Summary returns the user's position in a single commodity.
func Summary(ctx context.Context, r store.Reader, userID, commodityID string) (*Position, error) {
	c, err := r.GetCommodity(ctx, commodityID)
	if err != nil {
		return nil, err
	}
	lots, err := r.ListLots(ctx, userID, commodityID)
	if err != nil {
		return nil, err
	}
	p := position(c, lots)
	return &p, nil
}

// Positions returns one Position per commodity the user holds, ordered by
// commodity name.
func Positions(ctx context.Context, r store.Reader, userID string) ([]Position, error) {
	lots, err := r.ListLots(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	byCommodity := make(map[string][]model.Lot)
	for _, l := range lots {
		byCommodity[l.CommodityID] = append(byCommodity[l.CommodityID], l)
	}

	out := make([]Position, 0, len(byCommodity))
	for id, ls := range byCommodity {
		c, err := r.GetCommodity(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, position(c, ls))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func position(c *model.Commodity, lots []model.Lot) Position {
	qty := Total(lots)
	basis := Basis(lots)
	p := Position{
		CommodityID: c.ID,
		Name:        c.Name,
		Quantity:    qty,
		Lots:        len(lots),
		CostBasis:   basis,
		TotalCost:   Cost(lots),
		Price:       c.Price,
		MarketValue: c.Price.Mul(decimal.NewFromInt(qty)),
	}
	if basis.Kind == model.BasisNoHoldings {
		return p
	}
	p.GainPerUnit = c.Price.Sub(basis.Basis)
	if basis.Basis.IsPositive() {
		pct := p.GainPerUnit.Div(basis.Basis).Mul(decimal.NewFromInt(100)).Round(2)
		p.GainPercent = decimal.NewNullDecimal(pct)
	}
	return p
}
