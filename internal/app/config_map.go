package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transport/router"
	logx "remindbot/pkg/logx"
)

const (
	defaultSchedule        = "50 18 * * *"
	defaultTimezone        = "Asia/Tokyo"
	defaultDispatchTimeout = 15 * time.Second
	defaultDispatchWorkers = 4
	defaultRatePerSec      = 5
	defaultCommandTimeout  = 10 * time.Second
	schedulerStateFile     = "scheduler_state.json"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file", "json", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(sc.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: %w: %s", storage.ErrUnknownDriver, sc.Driver)
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	r := cfg.Reminder
	sc := scheduler.Config{
		Schedule:   strings.TrimSpace(r.Schedule),
		Timezone:   strings.TrimSpace(r.Timezone),
		OncePerDay: r.OncePerDayOrDefault(),
		FireAt:     strings.TrimSpace(r.FireAt),
	}
	if sc.Schedule == "" {
		sc.Schedule = defaultSchedule
	}
	if sc.Timezone == "" {
		sc.Timezone = defaultTimezone
	}
	return sc
}

// mapSchedulerStatePath picks where the last fired day is kept. Memory storage
// keeps nothing across restarts, so neither does the scheduler.
func mapSchedulerStatePath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Reminder.StatePath); p != "" {
		return p
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "memory", "mem":
		return ""
	}
	dir := "."
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		dir = filepath.Dir(p)
	}
	return filepath.Join(dir, schedulerStateFile)
}

// dispatchSettings are the hot-reloadable knobs of a tick.
type dispatchSettings struct {
	Dispatcher reminder.DispatcherConfig
	Workers    int
}

func mapDispatchSettings(cfg *config.Config) (dispatchSettings, error) {
	r := cfg.Reminder
	timeout, err := config.DurationOr("reminder.dispatch_timeout", r.DispatchTimeout, defaultDispatchTimeout)
	if err != nil {
		return dispatchSettings{}, err
	}
	if r.DispatchWorkers < 0 {
		return dispatchSettings{}, fmt.Errorf("reminder.dispatch_workers must be >= 0")
	}
	if r.RatePerSec < 0 {
		return dispatchSettings{}, fmt.Errorf("reminder.rate_per_sec must be >= 0")
	}
	ds := dispatchSettings{
		Dispatcher: reminder.DispatcherConfig{Timeout: timeout, RatePerSec: r.RatePerSec},
		Workers:    r.DispatchWorkers,
	}
	if ds.Workers == 0 {
		ds.Workers = defaultDispatchWorkers
	}
	if ds.Dispatcher.RatePerSec == 0 {
		ds.Dispatcher.RatePerSec = defaultRatePerSec
	}
	return ds, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	rc := cfg.Router
	if rc.Workers < 0 || rc.QueueSize < 0 {
		return router.Config{}, fmt.Errorf("router.workers and router.queue_size must be >= 0")
	}
	timeout, err := config.DurationOr("router.command_timeout", rc.CommandTimeout, defaultCommandTimeout)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{Workers: rc.Workers, QueueSize: rc.QueueSize, CommandTimeout: timeout}, nil
}

func mapPollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}

// validateConfig checks every section that startup or a hot reload would map.
func validateConfig(cfg *config.Config) error {
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if err := scheduler.Validate(mapSchedulerConfig(cfg)); err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	if _, err := mapDispatchSettings(cfg); err != nil {
		return err
	}
	if _, err := mapRouterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollTimeout(cfg); err != nil {
		return err
	}
	return nil
}
