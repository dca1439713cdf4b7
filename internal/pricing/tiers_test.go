package pricing_test

import (
	"testing"

	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/pricing"
)

func TestTiers_Pick(t *testing.T) {
	tiers := pricing.DefaultTiers()

	tests := []struct {
		draw int
		want model.Tier
	}{
		{0, model.TierNormal},
		{800, model.TierNormal},
		{801, model.TierRare},
		{950, model.TierRare},
		{951, model.TierEpic},
		{990, model.TierEpic},
		{991, model.TierHeroic},
		{999, model.TierHeroic},
		{5000, model.TierHeroic},
	}
	for _, tt := range tests {
		if got := tiers.Pick(tt.draw); got != tt.want {
			t.Errorf("Pick(%d) = %s, want %s", tt.draw, got, tt.want)
		}
	}
}

func TestTiers_OverflowFallsIntoLastTier(t *testing.T) {
	tiers, err := pricing.ParseTiers(1000, "rare:600,normal:300", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tiers.Breakpoints[0].Tier != model.TierNormal {
		t.Fatalf("breakpoints not sorted by threshold: %+v", tiers.Breakpoints)
	}
	if got := tiers.Pick(700); got != model.TierRare {
		t.Errorf("Pick(700) = %s, want overflow into rare", got)
	}
}

func TestTiers_Multiplier(t *testing.T) {
	tiers := pricing.DefaultTiers()
	if !tiers.Multiplier(model.TierNormal).Equal(d("1")) {
		t.Errorf("normal multiplier = %s, want default 1", tiers.Multiplier(model.TierNormal))
	}
	if !tiers.Multiplier(model.TierEpic).Equal(d("3.5")) {
		t.Errorf("epic multiplier = %s, want 3.5", tiers.Multiplier(model.TierEpic))
	}
	if tiers.Range != pricing.DefaultRange {
		t.Errorf("range = %d, want %d", tiers.Range, pricing.DefaultRange)
	}
}

func TestParseTiers_Errors(t *testing.T) {
	tests := []struct {
		name        string
		breakpoints string
		multipliers string
	}{
		{"missing colon", "normal800", ""},
		{"unknown tier", "legendary:900", ""},
		{"bad threshold", "normal:lots", ""},
		{"negative threshold", "normal:-1", ""},
		{"bad multiplier", "normal:800", "rare:x"},
		{"negative multiplier", "normal:800", "rare:-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pricing.ParseTiers(0, tt.breakpoints, tt.multipliers); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
