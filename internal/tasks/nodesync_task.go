package tasks

import (
	"context"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/nodesync"
	"github.com/fleetctl/fleetctl/internal/retry"
)

// KindNodeSync identifies a background node-sync-wait task.
const KindNodeSync = "NodeSync"

// NodeSyncSpec builds a Spec whose Checker delegates to a SyncManager and
// whose OnComplete hook switches the service back to the local node when
// autoSwitch is set (the Background strategy's hand-back). Each poll is
// retried with the standard transient-error backoff, since a single RPC
// timeout against a busy node shouldn't fail the whole check cycle.
func NodeSyncSpec(serviceID string, mgr *nodesync.Manager, clk clock.Clock, autoSwitch bool, onSwitchToLocal func()) Spec {
	return Spec{
		Kind:      KindNodeSync,
		ServiceID: serviceID,
		Checker: func(ctx context.Context, _ Task) (CheckResult, error) {
			var status nodesync.Status
			err := retry.Do(ctx, clk, func() error {
				var probeErr error
				status, probeErr = mgr.Probe(ctx)
				return probeErr
			})
			if err != nil {
				return CheckResult{}, err
			}
			return CheckResult{
				Completed: status.IsSynced,
				Progress:  int(status.ProgressPct),
				Metadata: map[string]any{
					"blockCount":  status.BlockCount,
					"headerCount": status.HeaderCount,
					"rate":        status.RateBlocksPerSec,
				},
			}, nil
		},
		OnComplete: func(_ Task) {
			if autoSwitch && onSwitchToLocal != nil {
				onSwitchToLocal()
			}
		},
	}
}
