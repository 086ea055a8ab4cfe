package inject

import (
	"context"

	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
)

// Notifier is an injected notifier.
type Notifier struct {
	notify.Notifier
	SendFunc func(ctx context.Context, n notify.Notification) error
}

// Send calls the injected Send or the real version.
func (n *Notifier) Send(ctx context.Context, note notify.Notification) error {
	if n.SendFunc == nil {
		return n.Notifier.Send(ctx, note)
	}
	return n.SendFunc(ctx, note)
}
