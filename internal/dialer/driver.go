package dialer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dialer-service/internal/counters"
)

// DriverOptions sets the fixed intervals of the control loop.
type DriverOptions struct {
	DialInterval  time.Duration
	RetryInterval time.Duration
	StatsInterval time.Duration

	// WorkerPoolSize caps how many campaigns one tick processes concurrently,
	// so a slow switch response for one campaign cannot stall the others.
	WorkerPoolSize int
}

func (o DriverOptions) withDefaults() DriverOptions {
	out := o
	if out.DialInterval <= 0 {
		out.DialInterval = 10 * time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 5 * time.Minute
	}
	if out.StatsInterval <= 0 {
		out.StatsInterval = time.Minute
	}
	if out.WorkerPoolSize <= 0 {
		out.WorkerPoolSize = 8
	}
	return out
}

// Driver owns the fixed-interval loops: the pacing tick, the retry sweep and
// the statistics refresh. Each tick enumerates active campaigns from the
// counter store and fans the work out to a bounded pool. A single campaign's
// failure never stops a driver; every outcome is logged and the loop goes on.
type Driver struct {
	svc  *Service
	cnt  counters.Store
	log  *slog.Logger
	opts DriverOptions
}

func NewDriver(svc *Service, cnt counters.Store, log *slog.Logger, opts DriverOptions) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{svc: svc, cnt: cnt, log: log, opts: opts.withDefaults()}
}

// Run blocks until ctx is cancelled, driving all three loops.
func (d *Driver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.loop(ctx, d.opts.DialInterval, d.dialTick)
		return nil
	})
	g.Go(func() error {
		d.loop(ctx, d.opts.RetryInterval, d.retryTick)
		return nil
	})
	g.Go(func() error {
		d.loop(ctx, d.opts.StatsInterval, d.statsTick)
		return nil
	})
	return g.Wait()
}

func (d *Driver) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick(ctx)
		}
	}
}

func (d *Driver) dialTick(ctx context.Context) {
	d.forEachActive(ctx, "dial", func(ctx context.Context, id string) {
		res := d.svc.RunCycle(ctx, id)
		if res.Status == "error" {
			d.log.Error("pacing cycle failed", "campaign_id", id, "reason", res.Reason)
			return
		}
		d.log.Debug("pacing cycle", "campaign_id", id, "status", res.Status, "reason", res.Reason, "dialed", res.Dialed)
	})
}

func (d *Driver) retryTick(ctx context.Context) {
	d.forEachActive(ctx, "retry", func(ctx context.Context, id string) {
		res := d.svc.RetrySweep(ctx, id)
		if res.Status == "error" {
			d.log.Error("retry sweep failed", "campaign_id", id, "reason", res.Reason)
		}
	})
}

func (d *Driver) statsTick(ctx context.Context) {
	d.forEachActive(ctx, "stats", func(ctx context.Context, id string) {
		if err := d.svc.RefreshStats(ctx, id); err != nil {
			d.log.Warn("stats refresh failed", "campaign_id", id, "err", err)
		}
	})
}

func (d *Driver) forEachActive(ctx context.Context, tickName string, fn func(context.Context, string)) {
	ids, err := d.cnt.ActiveCampaigns(ctx)
	if err != nil {
		d.log.Error("active campaign enumeration failed", "tick", tickName, "err", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	pool := errgroup.Group{}
	pool.SetLimit(d.opts.WorkerPoolSize)
	for _, id := range ids {
		id := id
		pool.Go(func() error {
			fn(ctx, id)
			return nil
		})
	}
	_ = pool.Wait()
}
