package diagnostic

import (
	"context"
	"time"
)

// Run ticks Scan on cfg.ScanInterval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Scan(ctx)
		}
	}
}
