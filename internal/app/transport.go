package app

import (
	"fmt"
	"strings"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/transport"
	"remindbot/internal/transport/discord"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

// boundTransport is the selected adapter plus its platform-specific bits.
type boundTransport struct {
	adapter transport.Adapter
	mention reminder.MentionFunc
	// scope restricts command registration to one tenant; empty is global.
	scope string
}

// newTransport is swapped in tests.
var newTransport = func(cfg *config.Config, log logx.Logger) (boundTransport, error) {
	switch cfg.TransportName() {
	case "discord":
		ad, err := discord.New(discord.Config{
			Token:         cfg.Discord.Token,
			ApplicationID: cfg.Discord.ApplicationID,
		}, log.With(logx.String("comp", "discord")))
		if err != nil {
			return boundTransport{}, err
		}
		return boundTransport{adapter: ad, mention: discord.Mention, scope: strings.TrimSpace(cfg.Discord.GuildID)}, nil
	case "telegram":
		poll, err := mapPollTimeout(cfg)
		if err != nil {
			return boundTransport{}, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: poll,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return boundTransport{}, err
		}
		return boundTransport{adapter: ad, mention: telegram.Mention, scope: strings.TrimSpace(cfg.Telegram.ScopeChatID)}, nil
	default:
		return boundTransport{}, fmt.Errorf("transport: unknown value %q", cfg.Transport)
	}
}
