// Package ingest turns push messages into stored events and decides which of
// them deserve a notification.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morrildl/providence/internal/db"
	"github.com/morrildl/providence/internal/notify"
	"github.com/morrildl/providence/pkg/exchange"
)

const (
	DefaultMotionThreshold = 4 * time.Hour
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultAction          = "/events"
)

type Config struct {
	// MotionThreshold is the quiet period a sensor must exceed before a
	// motion event notifies again.
	MotionThreshold time.Duration
	// Retention bounds the age of stored events.
	Retention time.Duration
	// Action is attached to notifications and opens the event history.
	Action string
}

func DefaultConfig() Config {
	return Config{
		MotionThreshold: DefaultMotionThreshold,
		Retention:       DefaultRetention,
		Action:          DefaultAction,
	}
}

// Outcome describes what one Process call did.
type Outcome struct {
	Ignored       bool  `json:"ignored"`
	Stored        bool  `json:"stored"`
	EventID       int64 `json:"eventId,omitempty"`
	MotionUpdated bool  `json:"motionUpdated"`
	Notify        bool  `json:"notify"`
	Collected     int64 `json:"collected"`
}

type Pipeline struct {
	mu         sync.Mutex
	store      *db.Store
	dispatcher notify.Dispatcher
	cfg        Config
}

func New(store *db.Store, dispatcher notify.Dispatcher, cfg Config) *Pipeline {
	return &Pipeline{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Deliver lets the pipeline act as an intake sink.
func (p *Pipeline) Deliver(ctx context.Context, msg *exchange.Message) error {
	_, err := p.Process(ctx, msg)
	return err
}

// Process ingests one message. The event append, retention sweep and motion
// state change commit together; calls are serialized.
func (p *Pipeline) Process(ctx context.Context, msg *exchange.Message) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.IsControl() {
		slog.Warn("Non-message received", "type", msg.Type)
		return Outcome{Ignored: true}, nil
	}

	var out Outcome
	err := p.store.Update(ctx, func(tx *db.Tx) error {
		collected, err := tx.GarbageCollect(ctx, p.cfg.Retention)
		if err != nil {
			return err
		}

		id, err := tx.Append(ctx, db.Event{
			Which:     msg.WhichName,
			Type:      msg.SensorTypeName,
			Event:     msg.EventName,
			Timestamp: msg.When,
			EventID:   msg.EventID,
		})
		if err != nil {
			return err
		}
		out = Outcome{Stored: true, EventID: id, Collected: collected}

		if !msg.IsMotion() {
			out.Notify = true
			return nil
		}

		last, seen, err := tx.QueryMotionState(ctx, msg.WhichName)
		if err != nil {
			return err
		}
		d := decideMotion(last, seen, msg.When, p.cfg.MotionThreshold)
		if d.malformed {
			slog.Warn("Malformed motion timestamp", "which", msg.WhichName, "when", msg.When, "stored", last)
		}
		if d.update {
			if err := tx.UpsertMotionState(ctx, msg.WhichName, msg.When); err != nil {
				return err
			}
		}
		out.MotionUpdated = d.update
		out.Notify = d.notify
		return nil
	})
	if err != nil {
		slog.Error("Storage failure, message dropped",
			"which", msg.WhichName, "event", msg.EventName, "when", msg.When, "err", err)
		return Outcome{}, fmt.Errorf("failed to ingest event from %s: %w", msg.WhichName, err)
	}

	slog.Info("Event stored", "id", out.EventID, "which", msg.WhichName, "event", msg.EventName,
		"notify", out.Notify, "collected", out.Collected)

	if out.Notify {
		n := notify.Notification{Title: msg.WhichName, Body: msg.EventName, Action: p.cfg.Action}
		if err := p.dispatcher.Notify(ctx, n); err != nil {
			slog.Error("Notification failed", "which", msg.WhichName, "err", err)
		}
	}

	return out, nil
}
