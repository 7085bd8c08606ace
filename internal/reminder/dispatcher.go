package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/transport"
)

var (
	ErrNoDestination = errors.New("no destination configured")
	ErrNotTextable   = errors.New("destination does not accept text messages")
)

// Dispatcher delivers Payload to one destination. There is no retry: the
// next opportunity is the next tick.
type Dispatcher struct {
	resolver transport.Resolver
	sender   transport.Sender

	// timeout bounds one resolve+send; 0 disables it.
	timeout time.Duration
	// limiter paces sends across tenants; nil means unlimited.
	limiter *rate.Limiter
}

type DispatcherConfig struct {
	Timeout    time.Duration
	RatePerSec int
}

func NewDispatcher(resolver transport.Resolver, sender transport.Sender, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{resolver: resolver, sender: sender, timeout: cfg.Timeout}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return d
}

// Dispatch resolves destinationID and sends the notification.
func (d *Dispatcher) Dispatch(ctx context.Context, destinationID string) error {
	if destinationID == "" {
		return ErrNoDestination
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	dest, err := d.resolver.Resolve(ctx, destinationID)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", destinationID, err)
	}
	if !dest.Textable {
		return fmt.Errorf("%w: %s (%s)", ErrNotTextable, destinationID, dest.Kind)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := d.sender.SendText(ctx, dest, Payload); err != nil {
		return fmt.Errorf("send to %s: %w", destinationID, err)
	}
	return nil
}
