package notify

import (
	"context"
	"errors"
)

// Notifier defines the interface for sending push notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and joins their failures.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many notifiers are attached.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}
