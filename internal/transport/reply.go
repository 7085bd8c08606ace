package transport

import "context"

// ReplyBusy is the final reply for an interaction turned away under load.
const ReplyBusy = "The bot is busy right now, please try again in a moment."

// ReplyNow acknowledges in and immediately finalizes it with text.
func ReplyNow(ctx context.Context, r Replier, in Interaction, text string) error {
	rc, err := r.Acknowledge(ctx, in)
	if err != nil {
		return err
	}
	return r.Finalize(ctx, rc, text)
}
