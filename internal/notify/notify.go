// Package notify delivers user-facing alerts for ingested sensor events.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Notification is what the user sees: the sensor as title, the event as
// body, and an action to open when the alert is acted on.
type Notification struct {
	Title  string
	Body   string
	Action string
}

type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Log writes notifications to the default logger.
type Log struct{}

func (Log) Notify(_ context.Context, n Notification) error {
	slog.Info("Notification", "title", n.Title, "body", n.Body, "action", n.Action)
	return nil
}

// Multi sends each notification to every dispatcher in turn.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
