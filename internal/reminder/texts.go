package reminder

import "remindbot/internal/transport"

// Payload is the notification posted to every enabled destination.
const Payload = "⏰ Reminder: it's time!"

const (
	replyOn            = "✅ Reminder ON. I will post in %s on schedule %s."
	replyOff           = "🔕 Reminder OFF."
	replyStatus        = "Status: %s / destination: %s"
	replyUnconfigured  = "Not configured yet. Run /remind on in the channel that should receive reminders."
	replyUnknown       = "Unknown subcommand %q. Use on, off or status."
	replyNoTenant      = "This command only works inside a server or group."
	replySaveFailed    = "❌ Could not save settings, nothing was changed. Please try again later."
	replyInternalError = "❌ Something went wrong while handling the command."
)

// CommandSpec is the /remind schema registered with the platform. scope
// limits it to one tenant; empty registers it everywhere.
func CommandSpec(scope string) transport.CommandSpec {
	return transport.CommandSpec{
		Name:        transport.CommandName,
		Description: "Daily reminder for this server",
		ScopeID:     scope,
		Subcommands: []transport.SubcommandSpec{
			{Name: transport.SubOn, Description: "Turn reminders on and post them in this channel"},
			{Name: transport.SubOff, Description: "Turn reminders off"},
			{Name: transport.SubStatus, Description: "Show whether reminders are on and where they go"},
		},
	}
}
