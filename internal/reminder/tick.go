package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"remindbot/internal/metrics"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Ticker runs one scheduler tick: load the table and dispatch to every
// enabled tenant with a destination.
type Ticker struct {
	store      storage.Store
	dispatcher *Dispatcher
	log        logx.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	workers int
}

func NewTicker(store storage.Store, d *Dispatcher, workers int, log logx.Logger, m *metrics.Metrics) *Ticker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Ticker{store: store, dispatcher: d, workers: workers, log: log, metrics: m}
}

// SetWorkers changes the per-tick concurrency for subsequent ticks.
func (t *Ticker) SetWorkers(n int) {
	if n <= 0 {
		n = 1
	}
	t.mu.Lock()
	t.workers = n
	t.mu.Unlock()
}

// SetDispatcher swaps the dispatcher used by subsequent ticks.
func (t *Ticker) SetDispatcher(d *Dispatcher) {
	t.mu.Lock()
	t.dispatcher = d
	t.mu.Unlock()
}

// TickReport summarizes one tick.
type TickReport struct {
	Dispatched []string
	Skipped    []string
	Failed     map[string]error
}

// Tick dispatches to every eligible tenant. Failures are isolated per
// tenant: they are logged and reported but never abort the tick.
func (t *Ticker) Tick(ctx context.Context) TickReport {
	start := time.Now()
	t.mu.Lock()
	workers, d := t.workers, t.dispatcher
	t.mu.Unlock()

	table := t.store.Load(ctx)
	rep := TickReport{Failed: map[string]error{}}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)

	for _, id := range table.TenantIDs() {
		conf := table[id]
		if !conf.Dispatchable() {
			rep.Skipped = append(rep.Skipped, id)
			t.metrics.Dispatch("skipped")
			continue
		}
		tenant, dest := id, conf.DestinationID
		g.Go(func() error {
			err := dispatchIsolated(ctx, d, dest)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[tenant] = err
				t.metrics.Dispatch("failed")
				t.log.Warn("dispatch failed",
					logx.String("tenant", tenant),
					logx.String("destination", dest),
					logx.Err(err),
				)
				return nil
			}
			rep.Dispatched = append(rep.Dispatched, tenant)
			t.metrics.Dispatch("ok")
			return nil
		})
	}
	_ = g.Wait()

	eligible := len(rep.Dispatched) + len(rep.Failed)
	t.metrics.ObserveTick(time.Since(start), eligible)
	t.log.Info("tick done",
		logx.Int("tenants", len(table)),
		logx.Int("dispatched", len(rep.Dispatched)),
		logx.Int("failed", len(rep.Failed)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Duration("took", time.Since(start)),
	)
	return rep
}

// dispatchIsolated turns a panic inside one dispatch into that tenant's error.
func dispatchIsolated(ctx context.Context, d *Dispatcher, dest string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return d.Dispatch(ctx, dest)
}
