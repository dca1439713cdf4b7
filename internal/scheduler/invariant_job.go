package scheduler

import (
	"context"
	"log/slog"

	"github.com/atmx/bean-exchange/internal/metrics"
	"github.com/atmx/bean-exchange/internal/store"
)

// InvariantJobName identifies the ledger check in logs and metrics.
const InvariantJobName = "ledger_invariants"

// InvariantJob returns a task that checks the ledger's bookkeeping, logs
// every violation and exports their count.
func InvariantJob(r store.Reader) TaskFn {
	return func(ctx context.Context) error {
		violations, err := store.CheckInvariants(ctx, r)
		if err != nil {
			return err
		}
		metrics.LedgerViolations.Set(float64(len(violations)))
		for _, v := range violations {
			slog.Error("ledger invariant violated",
				"commodity", v.CommodityID, "rule", v.Rule, "detail", v.Detail)
		}
		return nil
	}
}
