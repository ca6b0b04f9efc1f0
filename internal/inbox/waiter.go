package inbox

import (
	"context"
	"time"

	"github.com/loykin/ntfy-mcp/internal/metrics"
)

// WaitForNew blocks until the version counter exceeds baseline, the timeout
// elapses, or ctx is cancelled. It returns the version observed on exit and
// whether the counter advanced. A timeout is a normal "no new data yet"
// outcome, not an error. Already-satisfied baselines return immediately.
//
// Every Store broadcasts by closing the inbox's notify channel, so one
// insert wakes any number of concurrent waiters; wake order across waiters
// is unspecified.
func (b *Inbox) WaitForNew(ctx context.Context, baseline int64, timeout time.Duration) (int64, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if b.version > baseline {
			v := b.version
			b.mu.Unlock()
			metrics.WaiterWakes.Inc()
			return v, true
		}
		ch := b.notify
		b.mu.Unlock()

		select {
		case <-ch:
			// version bumped (or reset); loop and re-check
		case <-deadline.C:
			metrics.WaiterTimeouts.Inc()
			return b.Version(), false
		case <-ctx.Done():
			return b.Version(), false
		}
	}
}
