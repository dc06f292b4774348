// Package runner drives the engine's two concurrent loops: a fixed-
// interval tick loop (stall detection) and the adapter-to-engine ingest
// loop, with reconnect-and-retry around the latter. Ported from
// runtime/runner.py.
package runner

import (
	"context"
	"log/slog"
	"time"

	"marketdata-trust-engine/internal/adapter"
	"marketdata-trust-engine/internal/engine"
)

// TickLoop calls eng.Tick on a fixed interval until ctx is canceled.
func TickLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.Tick(time.Now().UnixMicro())
		}
	}
}

// Run consumes a, feeding every event into eng.Ingest. In historical mode
// (reconnect=false) it logs completion once the adapter is exhausted and
// then blocks until ctx is canceled; in realtime
// mode it retries the adapter after reconnectDelay on exhaustion or
// error, forever, until ctx is canceled.
func Run(ctx context.Context, a adapter.Adapter, eng *engine.Engine, reconnect bool, reconnectDelay time.Duration, logger *slog.Logger) {
	for {
		runOnce(ctx, a, eng, logger)
		if ctx.Err() != nil {
			return
		}
		if !reconnect {
			logger.Info("historical replay complete")
			<-ctx.Done()
			return
		}

		logger.Warn("adapter stream ended, reconnecting", "delay", reconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func runOnce(ctx context.Context, a adapter.Adapter, eng *engine.Engine, logger *slog.Logger) {
	events, errs := a.StreamEvents(ctx)
	defer a.Close()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := eng.Ingest(ev); err != nil {
				logger.Error("ingest failed", "error", err)
			}
		case err, ok := <-errs:
			if ok && err != nil {
				logger.Error("adapter error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
