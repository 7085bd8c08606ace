package app

import (
	"context"
	"slices"
	"strings"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

// reloadLoop applies committed configs until ctx is done. Bursts coalesce
// to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			systemd.Reloading(func() { a.applyConfig(last, next) })
			last = next
		}
	}
}

// applyConfig hot-applies what can change at runtime and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range []string{config.SectionTransport, config.SectionStorage, config.SectionMetrics} {
		if slices.Contains(sections, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	if slices.Contains(sections, config.SectionLogging) && a.logs != nil {
		a.logs.Apply(mapLoggingConfig(next))
	}

	if slices.Contains(sections, config.SectionReminder) {
		if err := a.sched.Apply(mapSchedulerConfig(next)); err != nil {
			a.log.Warn("invalid reminder schedule; keeping previous", logx.Err(err))
		}
		if mapSchedulerStatePath(prev) != mapSchedulerStatePath(next) {
			a.log.Warn("reminder.state_path changed; restart required for changes to take effect")
		}
		if ds, err := mapDispatchSettings(next); err != nil {
			a.log.Warn("invalid dispatch settings; keeping previous", logx.Err(err))
		} else {
			a.ticker.SetDispatcher(reminder.NewDispatcher(a.tr.adapter, a.tr.adapter, ds.Dispatcher))
			a.ticker.SetWorkers(ds.Workers)
		}
	}

	if slices.Contains(sections, config.SectionRouter) {
		if rc, err := mapRouterConfig(next); err == nil {
			a.router.SetCommandTimeout(rc.CommandTimeout)
			if prev.Router.Workers != next.Router.Workers || prev.Router.QueueSize != next.Router.QueueSize {
				a.log.Warn("router pool size changed; restart required for changes to take effect")
			}
		}
	}
}
