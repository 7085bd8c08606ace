package config

import (
	"strings"

	logx "remindbot/pkg/logx"
)

// Section names reported by SummarizeConfigChange.
const (
	SectionTransport = "transport"
	SectionLogging   = "logging"
	SectionStorage   = "storage"
	SectionReminder  = "reminder"
	SectionRouter    = "router"
	SectionMetrics   = "metrics"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are never logged, only whether they changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.TransportName() != newCfg.TransportName() ||
		oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.ApplicationID != newCfg.Discord.ApplicationID ||
		oldCfg.Discord.GuildID != newCfg.Discord.GuildID ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		trim(oldCfg.Telegram.PollTimeout) != trim(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.ScopeChatID != newCfg.Telegram.ScopeChatID {
		changed = append(changed, SectionTransport)
		attrs = append(attrs,
			logx.String("transport", newCfg.TransportName()),
			logx.Bool("transport.token_changed",
				oldCfg.Discord.Token != newCfg.Discord.Token || oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		!strings.EqualFold(trim(oldCfg.Logging.Format), trim(newCfg.Logging.Format)) ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		trim(oldCfg.Logging.File.Path) != trim(newCfg.Logging.File.Path) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if trim(oldCfg.Storage.Driver) != trim(newCfg.Storage.Driver) ||
		trim(oldCfg.Storage.Path) != trim(newCfg.Storage.Path) ||
		trim(oldCfg.Storage.BusyTimeout) != trim(newCfg.Storage.BusyTimeout) {
		changed = append(changed, SectionStorage)
		attrs = append(attrs,
			logx.String("storage.driver", trim(newCfg.Storage.Driver)),
			logx.String("storage.path", trim(newCfg.Storage.Path)),
		)
	}

	o, n := oldCfg.Reminder, newCfg.Reminder
	if trim(o.Schedule) != trim(n.Schedule) ||
		trim(o.Timezone) != trim(n.Timezone) ||
		o.OncePerDayOrDefault() != n.OncePerDayOrDefault() ||
		trim(o.FireAt) != trim(n.FireAt) ||
		trim(o.StatePath) != trim(n.StatePath) ||
		trim(o.DispatchTimeout) != trim(n.DispatchTimeout) ||
		o.DispatchWorkers != n.DispatchWorkers ||
		o.RatePerSec != n.RatePerSec {
		changed = append(changed, SectionReminder)
		attrs = append(attrs,
			logx.String("reminder.schedule", trim(n.Schedule)),
			logx.String("reminder.timezone", trim(n.Timezone)),
			logx.Bool("reminder.once_per_day", n.OncePerDayOrDefault()),
			logx.String("reminder.fire_at", trim(n.FireAt)),
			logx.Int("reminder.dispatch_workers", n.DispatchWorkers),
		)
	}

	if oldCfg.Router != newCfg.Router {
		changed = append(changed, SectionRouter)
		attrs = append(attrs,
			logx.Int("router.workers", newCfg.Router.Workers),
			logx.Int("router.queue_size", newCfg.Router.QueueSize),
			logx.String("router.command_timeout", trim(newCfg.Router.CommandTimeout)),
		)
	}

	if oldCfg.Metrics.Enabled != newCfg.Metrics.Enabled || trim(oldCfg.Metrics.Addr) != trim(newCfg.Metrics.Addr) ||
		oldCfg.Metrics.Pprof != newCfg.Metrics.Pprof || oldCfg.Metrics.PprofToken != newCfg.Metrics.PprofToken {
		changed = append(changed, SectionMetrics)
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", trim(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}
	return changed, attrs
}

// OncePerDayOrDefault resolves the optional once_per_day flag (default true).
func (r ReminderConfig) OncePerDayOrDefault() bool {
	if r.OncePerDay == nil {
		return true
	}
	return *r.OncePerDay
}

func trim(s string) string { return strings.TrimSpace(s) }
