// Package lifecycle provides the small cooperative-shutdown primitive
// used by the data node's registration retry loop, its RAM sampler, and
// the client's DataNodeNotReady pause. The accept loops stop by closing
// their listener and rebalance stops through its abort check instead. Spec §5: "A
// cooperative 'stoppable pause' polls a shared shutdown flag at ≤500ms
// granularity so shutdown is prompt."
package lifecycle

import (
	"context"
	"time"
)

// pollInterval bounds how long any single sleep waits before re-checking
// ctx for cancellation.
const pollInterval = 500 * time.Millisecond

// Sleep pauses for d or until ctx is canceled, whichever comes first,
// checking ctx at least every 500ms so shutdown stays prompt even for
// much longer sleeps (e.g. the data node's 1s registration backoff or the
// RAM sampler's 5s tick).
func Sleep(ctx context.Context, d time.Duration) {
	for d > 0 {
		step := d
		if step > pollInterval {
			step = pollInterval
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		d -= step
	}
}
