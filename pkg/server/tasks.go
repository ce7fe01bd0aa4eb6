package server

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/docuflow/statsengine/pkg/config"
	"github.com/docuflow/statsengine/pkg/stats"
)

// RunBadgerGC periodically reclaims badger value-log space.
func (e *Engine) RunBadgerGC(ctx context.Context) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := e.DB.RunGC(config.BadgerGCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				e.log.Warn("badger GC failed", "error", err)
			}
		}
	}
}

// RunReconcileSweep audits yesterday's rows for every known scope on a
// fixed interval. The auditor is the engine's backstop against drift from
// redelivered events or crashed writers; the sweep makes it run without an
// operator.
func (e *Engine) RunReconcileSweep(ctx context.Context) {
	ticker := time.NewTicker(config.ReconcileSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			yesterday := stats.DayOf(time.Now().UTC().Add(-24 * time.Hour))
			sweepCtx, cancel := context.WithTimeout(ctx, config.ReconcileTimeout)
			if err := e.Auditor.SweepDay(sweepCtx, yesterday); err != nil {
				e.log.Error("reconciliation sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// RunRealtimeBroadcast pushes a fresh realtime snapshot to websocket
// clients every few seconds. Queries are skipped entirely while no
// dashboard is connected.
func (e *Engine) RunRealtimeBroadcast(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.Hub.HasClients() {
				continue
			}
			snapshot, err := e.Query.RealtimeStats(ctx, stats.AllScopes())
			if err != nil {
				e.log.Warn("realtime snapshot failed", "error", err)
				continue
			}
			if err := e.Hub.Broadcast(snapshot); err != nil {
				e.log.Warn("realtime broadcast failed", "error", err)
			}
		}
	}
}
