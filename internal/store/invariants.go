package store

import (
	"context"
	"fmt"

	"github.com/atmx/bean-exchange/internal/model"
)

// Violation is one broken ledger invariant.
type Violation struct {
	CommodityID string `json:"commodity_id"`
	Rule        string `json:"rule"`
	Detail      string `json:"detail"`
}

// CheckInvariants verifies the per-commodity bookkeeping: the total splits
// exactly into user-held and pool-held, user-held equals the sum of all
// lots, and no lot or offer has a non-positive quantity.
func CheckInvariants(ctx context.Context, r Reader) ([]Violation, error) {
	commodities, err := r.ListCommodities(ctx)
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, c := range commodities {
		out = append(out, checkCommodity(c)...)

		lots, err := r.ListCommodityLots(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		var held int64
		for _, l := range lots {
			if l.Quantity <= 0 {
				out = append(out, Violation{c.ID, "lot_quantity_positive",
					fmt.Sprintf("lot %s has quantity %d", l.ID, l.Quantity)})
			}
			held += l.Quantity
		}
		if held != c.UserHeld {
			out = append(out, Violation{c.ID, "lots_match_user_held",
				fmt.Sprintf("lots sum to %d, user_held is %d", held, c.UserHeld)})
		}

		offers, err := r.ListOffers(ctx, model.OfferFilter{CommodityID: c.ID})
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			if o.Quantity <= 0 {
				out = append(out, Violation{c.ID, "offer_quantity_positive",
					fmt.Sprintf("offer %s has quantity %d", o.ID, o.Quantity)})
			}
		}
	}
	return out, nil
}

func checkCommodity(c model.Commodity) []Violation {
	var out []Violation
	if c.TotalQuantity != c.UserHeld+c.PoolHeld {
		out = append(out, Violation{c.ID, "total_equals_split",
			fmt.Sprintf("total %d != user_held %d + pool_held %d", c.TotalQuantity, c.UserHeld, c.PoolHeld)})
	}
	if c.PoolHeld < 0 || c.UserHeld < 0 {
		out = append(out, Violation{c.ID, "non_negative_holdings",
			fmt.Sprintf("user_held %d, pool_held %d", c.UserHeld, c.PoolHeld)})
	}
	if !c.Price.IsPositive() {
		out = append(out, Violation{c.ID, "price_positive", "price is " + c.Price.String()})
	}
	return out
}
