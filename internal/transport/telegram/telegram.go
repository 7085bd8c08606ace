// Package telegram connects the reminder core to Telegram: group chats are
// tenants and a destination is a chat id, optionally suffixed with a forum
// topic as "chatID:threadID".
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	textLimit     = 4000
	menuDescLimit = 256
	pendingText   = "⏳ Working on it…"

	busyReplyTimeout = 5 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// bot is the subset of *tele.Bot the adapter uses.
type bot interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatByID(id int64) (*tele.Chat, error)
	SetCommands(opts ...interface{}) error
	Start()
	Stop()
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot bot

	out      atomic.Pointer[chan<- transport.Interaction]
	rejected atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(cfg.Token),
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return newAdapter(cfg, b, log), nil
}

func newAdapter(cfg Config, b bot, log logx.Logger) *Adapter {
	a := &Adapter{cfg: cfg, log: log, bot: b}
	b.Handle("/"+transport.CommandName, a.onCommand)
	return a
}

func (a *Adapter) Name() string { return "telegram" }

// Mention renders a destination for replies. Telegram has no chat mention
// syntax, so topics are spelled out.
func Mention(destinationID string) string {
	chat, thread, err := ParseDestination(destinationID)
	if err != nil {
		return destinationID
	}
	if thread != 0 {
		return fmt.Sprintf("this chat (topic %d)", thread)
	}
	return fmt.Sprintf("chat %d", chat)
}

// FormatDestination is the inverse of ParseDestination.
func FormatDestination(chatID int64, threadID int) string {
	if threadID == 0 {
		return strconv.FormatInt(chatID, 10)
	}
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(threadID)
}

// ParseDestination splits "chatID" or "chatID:threadID".
func ParseDestination(id string) (chatID int64, threadID int, err error) {
	id = strings.TrimSpace(id)
	chatPart, threadPart, hasThread := strings.Cut(id, ":")
	chatID, err = strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, fmt.Errorf("invalid telegram destination %q", id)
	}
	if hasThread {
		threadID, err = strconv.Atoi(threadPart)
		if err != nil || threadID < 0 {
			return 0, 0, fmt.Errorf("invalid telegram topic in destination %q", id)
		}
	}
	return chatID, threadID, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "telegram"))),
	)

	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// Start blocks until Stop; restart it if it returns while still running.
	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	was := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()
	if !was || sup == nil {
		return nil
	}
	if n := a.rejected.Swap(0); n > 0 {
		a.log.Warn("commands rejected as busy", logx.Int64("count", int64(n)))
	}

	// long-poll may still be waiting; keep shutdown snappy
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) onCommand(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	it := toInteraction(m, c.Args())
	p := a.out.Load()
	if p == nil {
		return nil
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
	return nil
}

// toInteraction maps "/remind <sub>". Private chats carry no tenant.
func toInteraction(m *tele.Message, args []string) transport.Interaction {
	it := transport.Interaction{
		ID:       strconv.FormatInt(m.Chat.ID, 10) + "/" + strconv.Itoa(m.ID),
		OriginID: FormatDestination(m.Chat.ID, m.ThreadID),
		Handle:   m,
	}
	if m.Chat.Type != tele.ChatPrivate {
		it.TenantID = strconv.FormatInt(m.Chat.ID, 10)
	}
	if m.Sender != nil {
		it.UserID = strconv.FormatInt(m.Sender.ID, 10)
	}
	if len(args) > 0 {
		it.Subcommand = strings.ToLower(args[0])
	}
	return it
}

// Acknowledge posts a provisional message that Finalize edits in place.
// Telegram has no invoker-only replies in groups.
func (a *Adapter) Acknowledge(ctx context.Context, in transport.Interaction) (transport.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return transport.Receipt{}, err
	}
	m, ok := in.Handle.(*tele.Message)
	if !ok || m == nil || m.Chat == nil {
		return transport.Receipt{}, fmt.Errorf("telegram: interaction %s has no message", in.ID)
	}
	msg, err := a.bot.Send(m.Chat, pendingText, &tele.SendOptions{ThreadID: m.ThreadID})
	if err != nil {
		return transport.Receipt{}, fmt.Errorf("telegram ack: %w", err)
	}
	return transport.Receipt{Interaction: in, Ref: msg}, nil
}

func (a *Adapter) Finalize(ctx context.Context, r transport.Receipt, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, ok := r.Ref.(*tele.Message)
	if !ok || msg == nil {
		return fmt.Errorf("telegram: receipt for %s has no message", r.Interaction.ID)
	}
	if _, err := a.bot.Edit(msg, truncate(text, textLimit)); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

func (a *Adapter) Resolve(ctx context.Context, id string) (transport.Destination, error) {
	chatID, _, err := ParseDestination(id)
	if err != nil {
		return transport.Destination{}, fmt.Errorf("%w: %v", transport.ErrNotFound, err)
	}
	if err := ctx.Err(); err != nil {
		return transport.Destination{}, err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		if isNotFound(err) {
			return transport.Destination{}, fmt.Errorf("%w: chat %d", transport.ErrNotFound, chatID)
		}
		return transport.Destination{}, fmt.Errorf("telegram chat %d: %w", chatID, err)
	}
	return transport.Destination{ID: id, Kind: string(chat.Type), Textable: isTextable(chat.Type)}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.Destination, text string) error {
	chatID, threadID, err := ParseDestination(to.ID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.bot.Send(&tele.Chat{ID: chatID}, truncate(text, textLimit), &tele.SendOptions{ThreadID: threadID}); err != nil {
		return fmt.Errorf("telegram send to %s: %w", to.ID, err)
	}
	return nil
}

// RegisterCommands publishes the command menu, scoped to one chat when
// ScopeID is set.
func (a *Adapter) RegisterCommands(ctx context.Context, spec transport.CommandSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scope := tele.CommandScope{Type: tele.CommandScopeDefault}
	if spec.ScopeID != "" {
		id, err := strconv.ParseInt(spec.ScopeID, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram command scope %q: %w", spec.ScopeID, err)
		}
		scope = tele.CommandScope{Type: tele.CommandScopeChat, ChatID: id}
	}
	if err := a.bot.SetCommands([]tele.Command{menuCommand(spec)}, scope); err != nil {
		return fmt.Errorf("telegram set commands: %w", err)
	}
	a.log.Info("commands registered", logx.String("scope", string(scope.Type)))
	return nil
}

func menuCommand(spec transport.CommandSpec) tele.Command {
	names := make([]string, 0, len(spec.Subcommands))
	for _, sc := range spec.Subcommands {
		names = append(names, sc.Name)
	}
	desc := spec.Description
	if len(names) > 0 {
		desc += " (" + strings.Join(names, " | ") + ")"
	}
	desc = truncate(desc, menuDescLimit)
	return tele.Command{Text: spec.Name, Description: desc}
}

func isTextable(t tele.ChatType) bool {
	switch t {
	case tele.ChatPrivate, tele.ChatGroup, tele.ChatSuperGroup, tele.ChatChannel, tele.ChatChannelPrivate:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	if errors.Is(err, tele.ErrChatNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "chat not found")
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}
