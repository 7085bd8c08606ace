package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/metrics"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// ErrSaveFailed wraps a settings write failure so callers can tell it apart.
var ErrSaveFailed = errors.New("settings save failed")

// MentionFunc renders a destination id for a reply (e.g. "<#123>" on Discord).
type MentionFunc func(destinationID string) string

// Commands maps command interactions onto settings reads and mutations.
type Commands struct {
	store   storage.Store
	log     logx.Logger
	metrics *metrics.Metrics

	mention  MentionFunc
	schedule func() string
}

type CommandsOption func(*Commands)

// WithMention sets how destinations are rendered in replies.
func WithMention(fn MentionFunc) CommandsOption {
	return func(c *Commands) {
		if fn != nil {
			c.mention = fn
		}
	}
}

// WithScheduleDescription sets the schedule text shown in the "on" reply.
// fn is called per command so hot-reloaded schedules are reflected.
func WithScheduleDescription(fn func() string) CommandsOption {
	return func(c *Commands) {
		if fn != nil {
			c.schedule = fn
		}
	}
}

func WithMetrics(m *metrics.Metrics) CommandsOption {
	return func(c *Commands) { c.metrics = m }
}

func NewCommands(store storage.Store, log logx.Logger, opts ...CommandsOption) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Commands{
		store:    store,
		log:      log,
		mention:  func(id string) string { return id },
		schedule: func() string { return "daily" },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Handle runs one subcommand and returns the reply for the invoker.
//
// A non-nil error means the requested mutation was not persisted; the
// returned text then already describes the failure.
func (c *Commands) Handle(ctx context.Context, in transport.Interaction) (string, error) {
	sub := strings.ToLower(strings.TrimSpace(in.Subcommand))
	if strings.TrimSpace(in.TenantID) == "" {
		c.metrics.Command(sub, "rejected")
		return replyNoTenant, nil
	}

	var (
		reply string
		err   error
	)
	switch sub {
	case transport.SubOn:
		reply, err = c.on(ctx, in)
	case transport.SubOff:
		reply, err = c.off(ctx, in)
	case transport.SubStatus:
		reply = c.status(ctx, in)
	default:
		c.metrics.Command(sub, "rejected")
		return fmt.Sprintf(replyUnknown, in.Subcommand), nil
	}
	if err != nil {
		c.metrics.Command(sub, "failed")
		return replySaveFailed, err
	}
	c.metrics.Command(sub, "ok")
	return reply, nil
}

// on enables the tenant and pins its destination to the invoking context,
// overwriting any previous destination.
func (c *Commands) on(ctx context.Context, in transport.Interaction) (string, error) {
	t := c.store.Load(ctx)
	conf := t.Get(in.TenantID)
	prev := conf.DestinationID
	conf.Enabled = true
	conf.DestinationID = in.OriginID
	t[in.TenantID] = conf
	if err := c.save(ctx, t); err != nil {
		return "", err
	}
	c.log.Info("reminder enabled",
		logx.String("tenant", in.TenantID),
		logx.String("destination", in.OriginID),
		logx.String("previous", prev),
	)
	return fmt.Sprintf(replyOn, c.mention(in.OriginID), c.schedule()), nil
}

// off disables the tenant. The destination is kept so a later status still shows it.
func (c *Commands) off(ctx context.Context, in transport.Interaction) (string, error) {
	t := c.store.Load(ctx)
	conf := t.Get(in.TenantID)
	conf.Enabled = false
	t[in.TenantID] = conf
	if err := c.save(ctx, t); err != nil {
		return "", err
	}
	c.log.Info("reminder disabled", logx.String("tenant", in.TenantID))
	return replyOff, nil
}

// status is read-only: it never saves.
func (c *Commands) status(ctx context.Context, in transport.Interaction) string {
	t := c.store.Load(ctx)
	conf, ok := t[in.TenantID]
	if !ok || !conf.HasDestination() {
		return replyUnconfigured
	}
	state := "OFF"
	if conf.Enabled {
		state = "ON"
	}
	return fmt.Sprintf(replyStatus, state, c.mention(conf.DestinationID))
}

func (c *Commands) save(ctx context.Context, t storage.Table) error {
	if err := c.store.Save(ctx, t); err != nil {
		c.metrics.SaveFailed()
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// FailureReply is the reply shown when handling a command failed unexpectedly
// (panic, timeout) before Handle could produce a reply.
func FailureReply(err error) string {
	if errors.Is(err, ErrSaveFailed) {
		return replySaveFailed
	}
	return replyInternalError
}
