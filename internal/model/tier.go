package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is the volatility band a price tick was drawn from.
type Tier int

const (
	TierUnspecified Tier = iota
	TierNormal
	TierRare
	TierEpic
	TierHeroic
)

var tierNames = [...]string{"unspecified", "normal", "rare", "epic", "heroic"}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return tierNames[0]
	}
	return tierNames[t]
}

// ParseTier maps a tier name (case-insensitive) to a Tier. Unknown names
// map to TierUnspecified.
func ParseTier(name string) Tier {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range tierNames {
		if s == n {
			return Tier(i)
		}
	}
	return TierUnspecified
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tier: %w", err)
	}
	*t = ParseTier(s)
	return nil
}

// CostBasisKind tells how a CostBasis was derived.
type CostBasisKind string

const (
	BasisNoHoldings CostBasisKind = "no_holdings"
	BasisSingle     CostBasisKind = "basis"
	BasisAverage    CostBasisKind = "average"
)

// CostBasis is a user's per-unit acquisition cost for one commodity.
type CostBasis struct {
	Kind  CostBasisKind   `json:"kind"`
	Basis decimal.Decimal `json:"basis"`
}
