package config

// Config is the on-disk configuration (JSON, or YAML by file extension).
//
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	// Transport selects the chat platform: "discord" (default) or "telegram".
	Transport string `json:"transport"`

	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Router   RouterConfig   `json:"router"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type DiscordConfig struct {
	Token         string `json:"token"`
	ApplicationID string `json:"application_id"`
	// GuildID scopes slash command registration to one guild. Empty registers globally.
	GuildID string `json:"guild_id,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// ScopeChatID scopes the command menu to one chat. Empty registers the default menu.
	ScopeChatID string `json:"scope_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // pretty | json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the settings backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./settings.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ReminderConfig controls when and how notifications are dispatched.
//
// Defaults (when omitted/zero):
//   - schedule: "50 18 * * *"
//   - timezone: "Asia/Tokyo"
//   - once_per_day: true
//   - fire_at: none (required with once_per_day when schedule polls)
//   - state_path: "scheduler_state.json" next to the settings store; none for memory storage
//   - dispatch_timeout: "15s"
//   - dispatch_workers: 4
//   - rate_per_sec: 5
type ReminderConfig struct {
	Schedule        string `json:"schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	OncePerDay      *bool  `json:"once_per_day,omitempty"`
	FireAt          string `json:"fire_at,omitempty"`
	StatePath       string `json:"state_path,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	DispatchWorkers int    `json:"dispatch_workers,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
}

type RouterConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"

	// Pprof mounts /debug/pprof/ next to /metrics.
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"`
}
