// Package rollup refreshes the denormalized flight totals the pacing engine
// reads, on a fixed schedule.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
)

// HeartbeatName is the Redis heartbeat key suffix the health check reads.
const HeartbeatName = "rollup"

// Worker sums the daily impression counters into per-flight totals and
// writes them back to Postgres and the in-memory graph.
type Worker struct {
	PG      *db.Postgres
	Redis   *db.RedisStore
	Data    models.AdDataStore
	Metrics observability.MetricsRegistry
	Logger  *zap.Logger
}

// Run performs one rollup pass and stamps the heartbeat on success.
func (w *Worker) Run(ctx context.Context) error {
	totals, err := w.PG.FlightTotals(ctx)
	if err != nil {
		w.Metrics.IncrementRollupRuns("error")
		return fmt.Errorf("rollup totals: %w", err)
	}

	for slug, t := range totals {
		if err := w.PG.UpdateFlightTotals(ctx, slug, t[0], t[1]); err != nil {
			w.Metrics.IncrementRollupRuns("error")
			return fmt.Errorf("rollup persist %s: %w", slug, err)
		}
		if err := w.Data.UpdateFlightTotals(slug, t[0], t[1]); err != nil {
			// The flight may have been removed since the last reload.
			w.Logger.Debug("rollup skipped unknown flight", zap.String("flight", slug))
		}
	}

	if err := w.Redis.SetHeartbeat(ctx, HeartbeatName, time.Now()); err != nil {
		w.Metrics.IncrementRollupRuns("error")
		return fmt.Errorf("rollup heartbeat: %w", err)
	}

	w.Metrics.IncrementRollupRuns("success")
	w.Logger.Info("rollup completed", zap.Int("flights", len(totals)))
	return nil
}

// Start schedules the worker on a cron running every interval. The returned
// cron is already started; callers stop it on shutdown.
func (w *Worker) Start(interval time.Duration) (*cron.Cron, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := w.Run(ctx); err != nil {
			w.Logger.Error("rollup run failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule rollup: %w", err)
	}
	c.Start()
	return c, nil
}
