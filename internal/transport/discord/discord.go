// Package discord connects the reminder core to Discord: guilds are tenants,
// channels are destinations, and /remind is a guild slash command answered
// with a deferred ephemeral response.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Discord rejects message content above this many characters.
const (
	messageLimit = 2000
	// busyReplyTimeout bounds the inline busy reply; Discord expires
	// unacknowledged interactions after three seconds.
	busyReplyTimeout = 2500 * time.Millisecond
)

type Config struct {
	Token         string
	ApplicationID string
}

// session is the subset of *discordgo.Session the adapter uses.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Adapter struct {
	cfg Config
	log logx.Logger

	s     session
	state *discordgo.State // nil when the session has no cache

	runMu    sync.Mutex
	running  bool
	out      atomic.Pointer[chan<- transport.Interaction]
	rejected atomic.Uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if strings.TrimSpace(cfg.ApplicationID) == "" {
		return nil, errors.New("discord application id is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	// guild create events populate the channel cache used by Resolve
	s.Identify.Intents = discordgo.IntentsGuilds
	if log.IsZero() {
		log = logx.Nop()
	}
	routeLibraryLogs(log)

	a := newAdapter(cfg, s, log)
	a.state = s.State
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("discord session ready",
			logx.String("user", r.User.Username),
			logx.Int("guilds", len(r.Guilds)),
		)
	})
	return a, nil
}

func newAdapter(cfg Config, s session, log logx.Logger) *Adapter {
	a := &Adapter{cfg: cfg, log: log, s: s}
	s.AddHandler(a.onInteraction)
	return a
}

func (a *Adapter) Name() string { return "discord" }

// Mention renders a channel id as a clickable channel reference.
func Mention(channelID string) string { return "<#" + channelID + ">" }

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(&out)
	if err := a.s.Open(); err != nil {
		a.out.Store(nil)
		return fmt.Errorf("discord open: %w", err)
	}
	a.running = true
	a.log.Info("discord gateway connected")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.out.Store(nil)
	if !a.running {
		return nil
	}
	a.running = false
	if n := a.rejected.Swap(0); n > 0 {
		a.log.Warn("interactions rejected as busy", logx.Int64("count", int64(n)))
	}
	if err := a.s.Close(); err != nil {
		a.log.Warn("discord close failed", logx.Err(err))
	}
	a.log.Info("discord gateway closed")
	return nil
}

func (a *Adapter) onInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil {
		return
	}
	it, ok := toInteraction(ic.Interaction)
	if !ok {
		return
	}
	p := a.out.Load()
	if p == nil {
		return
	}
	select {
	case *p <- it:
	default:
		a.rejected.Add(1)
		a.log.Warn("router queue full; replying busy", logx.String("id", it.ID))
		ctx, cancel := context.WithTimeout(context.Background(), busyReplyTimeout)
		defer cancel()
		if err := transport.ReplyNow(ctx, a, it, transport.ReplyBusy); err != nil {
			a.log.Warn("busy reply failed", logx.String("id", it.ID), logx.Err(err))
		}
	}
}

// toInteraction maps a slash command invocation of /remind. Other interaction
// kinds and other commands are ignored.
func toInteraction(i *discordgo.Interaction) (transport.Interaction, bool) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return transport.Interaction{}, false
	}
	data := i.ApplicationCommandData()
	if data.Name != transport.CommandName {
		return transport.Interaction{}, false
	}
	sub := ""
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		sub = data.Options[0].Name
	}
	user := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		user = i.Member.User.ID
	case i.User != nil:
		user = i.User.ID
	}
	return transport.Interaction{
		ID:         i.ID,
		TenantID:   i.GuildID,
		OriginID:   i.ChannelID,
		UserID:     user,
		Subcommand: sub,
		Handle:     i,
	}, true
}

// Acknowledge defers the response as ephemeral, so only the invoker sees the
// "thinking" state and the final reply.
func (a *Adapter) Acknowledge(ctx context.Context, in transport.Interaction) (transport.Receipt, error) {
	i, ok := in.Handle.(*discordgo.Interaction)
	if !ok || i == nil {
		return transport.Receipt{}, fmt.Errorf("discord: interaction %s has no handle", in.ID)
	}
	err := a.s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return transport.Receipt{}, fmt.Errorf("discord defer: %w", err)
	}
	return transport.Receipt{Interaction: in, Ref: i}, nil
}

func (a *Adapter) Finalize(ctx context.Context, r transport.Receipt, text string) error {
	i, ok := r.Ref.(*discordgo.Interaction)
	if !ok || i == nil {
		return fmt.Errorf("discord: receipt for %s has no interaction", r.Interaction.ID)
	}
	content := truncate(text, messageLimit)
	if _, err := a.s.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord edit response: %w", err)
	}
	return nil
}

// Resolve looks the channel up in the gateway cache first, then over REST.
func (a *Adapter) Resolve(ctx context.Context, id string) (transport.Destination, error) {
	if a.state != nil {
		if ch, err := a.state.Channel(id); err == nil && ch != nil {
			return destination(ch), nil
		}
	}
	ch, err := a.s.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return transport.Destination{}, fmt.Errorf("%w: channel %s", transport.ErrNotFound, id)
		}
		return transport.Destination{}, fmt.Errorf("discord channel %s: %w", id, err)
	}
	return destination(ch), nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.Destination, text string) error {
	if _, err := a.s.ChannelMessageSend(to.ID, truncate(text, messageLimit), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send to %s: %w", to.ID, err)
	}
	return nil
}

// RegisterCommands overwrites the application's commands in one guild when
// ScopeID is set (visible immediately), globally otherwise.
func (a *Adapter) RegisterCommands(ctx context.Context, spec transport.CommandSpec) error {
	cmds := []*discordgo.ApplicationCommand{buildCommand(spec)}
	got, err := a.s.ApplicationCommandBulkOverwrite(a.cfg.ApplicationID, spec.ScopeID, cmds, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord register commands: %w", err)
	}
	scope := spec.ScopeID
	if scope == "" {
		scope = "global"
	}
	a.log.Info("commands registered", logx.String("scope", scope), logx.Int("count", len(got)))
	return nil
}

func buildCommand(spec transport.CommandSpec) *discordgo.ApplicationCommand {
	dmAllowed := false
	cmd := &discordgo.ApplicationCommand{
		Name:         spec.Name,
		Description:  spec.Description,
		DMPermission: &dmAllowed,
	}
	for _, sc := range spec.Subcommands {
		cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        sc.Name,
			Description: sc.Description,
		})
	}
	return cmd
}

func destination(ch *discordgo.Channel) transport.Destination {
	return transport.Destination{ID: ch.ID, Kind: channelKind(ch.Type), Textable: isTextable(ch.Type)}
}

func isTextable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM:
		return true
	}
	return false
}

func channelKind(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return "text"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeGuildVoice:
		return "voice"
	case discordgo.ChannelTypeGuildCategory:
		return "category"
	case discordgo.ChannelTypeGuildNewsThread, discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread:
		return "thread"
	case discordgo.ChannelTypeGuildStageVoice:
		return "stage"
	case discordgo.ChannelTypeGuildForum:
		return "forum"
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return "dm"
	}
	return fmt.Sprintf("type_%d", int(t))
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeUnknownChannel {
		return true
	}
	return rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}

// routeLibraryLogs sends discordgo's internal logging through logx.
func routeLibraryLogs(log logx.Logger) {
	l := log.With(logx.String("comp", "discordgo"))
	discordgo.Logger = func(level, _ int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch level {
		case discordgo.LogError:
			l.Error(msg)
		case discordgo.LogWarning:
			l.Warn(msg)
		case discordgo.LogInformational:
			l.Info(msg)
		default:
			l.Debug(msg)
		}
	}
}
