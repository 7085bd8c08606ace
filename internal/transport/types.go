// Package transport defines the platform-neutral surface the reminder core
// talks to: inbound command interactions, their acknowledgement, destination
// resolution and text delivery.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Resolve when the destination does not exist
	// or is not visible to the bot.
	ErrNotFound = errors.New("destination not found")
)

// CommandName is the single command exposed to users.
const CommandName = "remind"

// Subcommands of CommandName.
const (
	SubOn     = "on"
	SubOff    = "off"
	SubStatus = "status"
)

// Interaction is one inbound command event.
type Interaction struct {
	// ID is the platform id of the event (interaction id, message id).
	ID string
	// TenantID is the independently configured scope (guild, group chat).
	// Empty when the command was issued outside any tenant.
	TenantID string
	// OriginID is the destination id of the context the command was issued from.
	OriginID   string
	UserID     string
	Subcommand string

	// Handle carries the adapter-specific event (e.g. *discordgo.Interaction).
	Handle any
}

// Receipt is returned by Acknowledge and consumed by Finalize.
type Receipt struct {
	Interaction Interaction
	// Ref is adapter-specific (e.g. the provisional message to edit).
	Ref any
}

// Destination is a resolved channel handle.
type Destination struct {
	ID   string
	Kind string
	// Textable reports whether the destination accepts plain text messages.
	Textable bool
}

// CommandSpec describes the command registered with the platform.
type CommandSpec struct {
	Name        string
	Description string
	Subcommands []SubcommandSpec
	// ScopeID restricts registration to one tenant. Empty registers globally.
	ScopeID string
}

type SubcommandSpec struct {
	Name        string
	Description string
}

// Replier answers command interactions using acknowledge-then-finalize:
// Acknowledge must return quickly (platform ack deadline); Finalize delivers
// the real reply once the work is done. Replies are private to the invoker
// where the platform supports it.
type Replier interface {
	Acknowledge(ctx context.Context, in Interaction) (Receipt, error)
	Finalize(ctx context.Context, r Receipt, text string) error
}

// Resolver looks up a destination by id.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Destination, error)
}

// Sender delivers text to a resolved destination.
type Sender interface {
	SendText(ctx context.Context, to Destination, text string) error
}

// Adapter is a chat platform connection.
type Adapter interface {
	Replier
	Resolver
	Sender

	Name() string
	// RegisterCommands publishes the command schema with the platform.
	RegisterCommands(ctx context.Context, spec CommandSpec) error
	// Start opens the realtime session and forwards interactions to out.
	Start(ctx context.Context, out chan<- Interaction) error
	Stop(ctx context.Context) error
}
