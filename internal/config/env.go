package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrMissingEnv reports a required credential that is set neither in the file nor the environment.
var ErrMissingEnv = errors.New("missing required setting")

// LookupFunc reports the value of an environment key.
type LookupFunc func(key string) (string, bool)

// applyEnv copies environment values over file values.
//
// Environment variables supported:
//   - REMINDBOT_TRANSPORT ("discord" | "telegram")
//   - DISCORD_TOKEN, CLIENT_ID, GUILD_ID
//   - TELEGRAM_TOKEN, TELEGRAM_SCOPE_CHAT_ID
//   - REMINDBOT_SETTINGS_PATH
//   - REMINDBOT_LOG_LEVEL
func applyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil || lookup == nil {
		return
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Transport, "REMINDBOT_TRANSPORT")
	set(&cfg.Discord.Token, "DISCORD_TOKEN")
	set(&cfg.Discord.ApplicationID, "CLIENT_ID")
	set(&cfg.Discord.GuildID, "GUILD_ID")
	set(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	set(&cfg.Telegram.ScopeChatID, "TELEGRAM_SCOPE_CHAT_ID")
	set(&cfg.Storage.Path, "REMINDBOT_SETTINGS_PATH")
	set(&cfg.Logging.Level, "REMINDBOT_LOG_LEVEL")
}

// envLookup layers a dotenv file under the process environment: a non-empty
// process variable wins, otherwise the file value is used. A missing file is
// not an error.
func envLookup(path string) (LookupFunc, error) {
	if strings.TrimSpace(path) == "" {
		return os.LookupEnv, nil
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return os.LookupEnv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		v, ok := vals[key]
		return v, ok
	}, nil
}

// TransportName returns the normalized transport name.
func (c *Config) TransportName() string {
	t := strings.ToLower(strings.TrimSpace(c.Transport))
	if t == "" {
		return "discord"
	}
	return t
}

// ValidateCredentials checks the settings without which the process must not start.
func (c *Config) ValidateCredentials() error {
	switch c.TransportName() {
	case "discord":
		if strings.TrimSpace(c.Discord.Token) == "" {
			return fmt.Errorf("%w: DISCORD_TOKEN (discord.token)", ErrMissingEnv)
		}
		if strings.TrimSpace(c.Discord.ApplicationID) == "" {
			return fmt.Errorf("%w: CLIENT_ID (discord.application_id)", ErrMissingEnv)
		}
	case "telegram":
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("%w: TELEGRAM_TOKEN (telegram.token)", ErrMissingEnv)
		}
	default:
		return fmt.Errorf("transport: unknown value %q (use discord or telegram)", c.Transport)
	}
	return nil
}
