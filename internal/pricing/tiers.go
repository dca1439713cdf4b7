// Package pricing simulates daily commodity price movements.
package pricing

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/model"
)

// DefaultRange is the exclusive upper bound of a tier draw.
const DefaultRange = 1000

// Breakpoint assigns draws up to and including Threshold to Tier.
type Breakpoint struct {
	Tier      model.Tier
	Threshold int
}

// Tiers maps a uniform draw in [0, Range) to a volatility tier and each tier
// to a multiplier applied to the day's percentage move.
type Tiers struct {
	Range       int
	Breakpoints []Breakpoint // ascending by Threshold
	Multipliers map[model.Tier]decimal.Decimal
}

// DefaultTiers: 80% normal, 15% rare, 4% epic, 1% heroic.
func DefaultTiers() Tiers {
	t, err := ParseTiers(DefaultRange, "normal:800,rare:950,epic:990,heroic:1000", "rare:2,epic:3.5,heroic:5")
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTiers builds Tiers from "name:threshold" and "name:multiplier" lists.
// Tiers without a multiplier move at 1x. A range of zero or less means
// DefaultRange.
func ParseTiers(rangeN int, breakpoints, multipliers string) (Tiers, error) {
	if rangeN <= 0 {
		rangeN = DefaultRange
	}
	t := Tiers{Range: rangeN, Multipliers: make(map[model.Tier]decimal.Decimal)}

	for _, pair := range splitPairs(breakpoints) {
		tier, value, err := parsePair(pair)
		if err != nil {
			return Tiers{}, fmt.Errorf("breakpoint %q: %w", pair, err)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return Tiers{}, fmt.Errorf("breakpoint %q: threshold must be a non-negative integer", pair)
		}
		t.Add(tier, n)
	}

	for _, pair := range splitPairs(multipliers) {
		tier, value, err := parsePair(pair)
		if err != nil {
			return Tiers{}, fmt.Errorf("multiplier %q: %w", pair, err)
		}
		m, err := decimal.NewFromString(value)
		if err != nil || m.IsNegative() {
			return Tiers{}, fmt.Errorf("multiplier %q: must be a non-negative number", pair)
		}
		t.Multipliers[tier] = m
	}
	return t, nil
}

func splitPairs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePair(pair string) (model.Tier, string, error) {
	name, value, ok := strings.Cut(pair, ":")
	if !ok {
		return 0, "", fmt.Errorf("expected name:value")
	}
	tier := model.ParseTier(name)
	if tier == model.TierUnspecified {
		return 0, "", fmt.Errorf("unknown tier %q", name)
	}
	return tier, strings.TrimSpace(value), nil
}

// Add inserts a breakpoint, keeping them ordered by threshold.
func (t *Tiers) Add(tier model.Tier, threshold int) {
	t.Breakpoints = append(t.Breakpoints, Breakpoint{Tier: tier, Threshold: threshold})
	sort.SliceStable(t.Breakpoints, func(i, j int) bool {
		return t.Breakpoints[i].Threshold < t.Breakpoints[j].Threshold
	})
}

// Pick returns the tier of the first breakpoint whose threshold is at least
// draw. Draws above every threshold fall into the last tier.
func (t Tiers) Pick(draw int) model.Tier {
	if len(t.Breakpoints) == 0 {
		return model.TierUnspecified
	}
	for _, b := range t.Breakpoints {
		if b.Threshold >= draw {
			return b.Tier
		}
	}
	return t.Breakpoints[len(t.Breakpoints)-1].Tier
}

// Draw picks a tier using rng.
func (t Tiers) Draw(rng *rand.Rand) model.Tier {
	n := t.Range
	if n <= 0 {
		n = DefaultRange
	}
	return t.Pick(rng.IntN(n))
}

// Multiplier returns the tier's multiplier, 1 when none is configured.
func (t Tiers) Multiplier(tier model.Tier) decimal.Decimal {
	if m, ok := t.Multipliers[tier]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}
