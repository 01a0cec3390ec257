// Package events delivers committed order transitions to downstream
// subscribers such as Kafka, websocket clients and the trade journal.
package events

import (
	"context"
	"errors"
	"log/slog"

	"papertrade/internal/domain"
)

// Notifier receives an event after the transition it describes has been
// committed. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, evt domain.OrderEvent) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, evt domain.OrderEvent) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, evt domain.OrderEvent) error {
	return f(ctx, evt)
}

// Multi fans an event out to every notifier. All notifiers are called even
// when one fails; the errors are joined.
type Multi []Notifier

// Notify delivers evt to each notifier in order.
func (m Multi) Notify(ctx context.Context, evt domain.OrderEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, domain.OrderEvent) error { return nil })

// Logging wraps a notifier so that delivery failures are logged instead of
// returned to the caller.
func Logging(n Notifier, log *slog.Logger) Notifier {
	return NotifierFunc(func(ctx context.Context, evt domain.OrderEvent) error {
		if err := n.Notify(ctx, evt); err != nil {
			log.Warn("event delivery failed",
				"type", evt.Type, "order", evt.Order.ID, "account", evt.AccountID, "error", err)
		}
		return nil
	})
}
