package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-pipeline/facilitate"
)

// ExpirySweeper periodically expires executions that have been active past
// the timeout. Each sweep registers an expire interrupt for the plan run and
// concludes the stale node through the normal conclusion path so advisers and
// notify still fire.
type ExpirySweeper struct {
	strategy *Strategy
	timeout  time.Duration
	schedule string
	cron     *cron.Cron
	logger   Logger
}

// NewExpirySweeper builds a sweeper over the strategy. The schedule is a cron
// expression; the timeout is how long a node may stay active.
func NewExpirySweeper(strategy *Strategy, schedule string, timeout time.Duration, logger Logger) *ExpirySweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if timeout <= 0 {
		timeout = 4 * time.Hour
	}
	return &ExpirySweeper{
		strategy: strategy,
		timeout:  timeout,
		schedule: schedule,
		logger:   normalizeLogger(logger),
	}
}

// Start schedules the sweep.
func (w *ExpirySweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() {
		if err := w.Sweep(context.Background()); err != nil {
			w.logger.Error("expiry sweep failed: %v", err)
		}
	}); err != nil {
		return err
	}
	w.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (w *ExpirySweeper) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// Sweep expires every execution active past the timeout.
func (w *ExpirySweeper) Sweep(ctx context.Context) error {
	cutoff := w.strategy.now().Add(-w.timeout)
	stale, err := w.strategy.store.FetchActiveOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, ne := range stale {
		interrupt := facilitate.Interrupt{
			ID:              w.strategy.newID(),
			Type:            facilitate.InterruptExpire,
			PlanExecutionID: ne.Ambiance.PlanExecutionID,
			NodeExecutionID: ne.UUID,
		}
		if err := w.strategy.interrupts.Register(ctx, interrupt); err != nil {
			return err
		}
		if err := w.strategy.concludeEarly(ctx, ne, facilitate.Check{
			Reason:    "node exceeded the execution timeout",
			EndStatus: interrupt.EndStatus(),
		}); err != nil {
			return err
		}
		ambianceLogger(w.logger, ne.Ambiance).Warn("node expired after %s", w.timeout)
	}
	return nil
}
