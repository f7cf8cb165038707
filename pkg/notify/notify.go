// Package notify delivers out-of-band completion messages. Delivery is
// best-effort: a failed notification never fails the owning stage.
package notify

import "context"

// Notifier pushes a text message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, text string) error
}

// Noop discards all notifications; used when no messaging backend is
// configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }
