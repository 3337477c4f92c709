// Package jobs holds the background tasks run by the worker binary:
// periodic integrity scans over posted vouchers and ad-hoc maintenance
// work enqueued by the API.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVoucherIntegrity scans posted vouchers for local-amount drift.
	TaskVoucherIntegrity = "ledger:voucher_integrity"
)

// VoucherIntegrityPayload bounds one integrity scan.
type VoucherIntegrityPayload struct {
	Tolerance float64 `json:"tolerance"`
}

// NewVoucherIntegrityTask constructs the scan task.
func NewVoucherIntegrityTask(payload VoucherIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherIntegrity, data), nil
}

// VoucherScanner is the slice of the ledger the scan consumes.
type VoucherScanner interface {
	VoucherImbalances(ctx context.Context, tolerance float64) ([]string, error)
}

// VoucherIntegrityHandler reports vouchers whose lines no longer net to
// zero. Vouchers are immutable, so any hit means external tampering or
// a posting bug and is worth waking someone for.
func VoucherIntegrityHandler(repo VoucherScanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VoucherIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Tolerance <= 0 {
			payload.Tolerance = 0.01
		}
		bad, err := repo.VoucherImbalances(ctx, payload.Tolerance)
		if err != nil {
			return err
		}
		if len(bad) == 0 {
			logger.Info("voucher integrity scan clean")
			return nil
		}
		for _, voucherNo := range bad {
			logger.Error("unbalanced voucher detected", slog.String("voucher_no", voucherNo))
		}
		return nil
	}
}
