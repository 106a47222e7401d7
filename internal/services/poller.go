package services

import (
	"club-system/internal/status"
	"club-system/monitoring"
	"context"
	"log/slog"
	"time"
)

// TransactionChecker probes the gateway for a transaction's current state.
type TransactionChecker interface {
	CheckTransaction(ctx context.Context, transactionID string) (*status.CheckResult, error)
}

// Poller repeatedly probes transaction status on a fixed cadence until the
// gateway reports a definitive result, the overall timeout elapses, or the
// context is canceled.
type Poller struct {
	checker  TransactionChecker
	interval time.Duration
	timeout  time.Duration
}

func NewPoller(checker TransactionChecker, interval, timeout time.Duration) *Poller {
	return &Poller{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
	}
}

// Poll blocks until resolution. Transient gateway errors are swallowed and
// retried on the next tick, bounded by the overall timeout. A definitive
// failure or an invalid-request error stops polling immediately. On timeout
// it returns status.ErrPollTimeout: the gateway's own view stays unknown and
// the transaction might still complete later out-of-band.
func (p *Poller) Poll(ctx context.Context, transactionID string) (*status.CheckResult, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			monitoring.PollResolved("timeout")
			return nil, status.ErrPollTimeout

		case <-ticker.C:
			result, err := p.checker.CheckTransaction(ctx, transactionID)
			if err != nil {
				if ge, ok := status.AsGatewayError(err); ok && ge.Retryable() {
					slog.Debug("poll tick failed, retrying", "transaction_id", transactionID, "error", err)
					monitoring.PollTick("transient_error")
					continue
				}
				monitoring.PollResolved("gateway_error")
				return nil, err
			}

			if result.State == status.TxPending {
				monitoring.PollTick("pending")
				continue
			}

			monitoring.PollResolved(string(result.State))
			return result, nil
		}
	}
}
