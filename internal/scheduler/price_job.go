package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// PriceJobName identifies the daily price job in logs.
const PriceJobName = "price_catch_up"

// CatchUpper records missing daily price movements.
type CatchUpper interface {
	CatchUpAll(ctx context.Context, minPrice decimal.Decimal, fallbackFrom time.Time) (int, error)
}

// PriceJob returns a task that brings every commodity's price history up to
// today. Commodities with no history start at from.
func PriceJob(sim CatchUpper, minPrice decimal.Decimal, from func() time.Time) TaskFn {
	return func(ctx context.Context) error {
		n, err := sim.CatchUpAll(ctx, minPrice, from())
		if n > 0 {
			slog.Info("price ticks recorded", "count", n)
		}
		return err
	}
}
