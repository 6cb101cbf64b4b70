package db

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/morrildl/providence/pkg/exchange"
)

func validateEvent(ev Event) error {
	if ev.Which == "" {
		return ErrEmptyWhich
	}
	if ev.Type == "" {
		return ErrEmptyType
	}
	if ev.Event == "" {
		return ErrEmptyEvent
	}
	return nil
}

// Append inserts ev and returns its assigned id. ev.ID is ignored.
func (t *Tx) Append(ctx context.Context, ev Event) (int64, error) {
	if err := validateEvent(ev); err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx, INSERT_EVENT,
		ev.Which, ev.Type, ev.Event, ev.Timestamp, ev.EventID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get event ID: %w", err)
	}
	return id, nil
}

// GarbageCollect deletes events older than retention and reports how many
// rows went. Events whose timestamp is not in the storage layout are kept.
func (t *Tx) GarbageCollect(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := t.now().Add(-retention).Format(exchange.TimestampLayout)
	res, err := t.tx.ExecContext(ctx, DELETE_OLD_EVENTS, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to collect events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type ListOptions struct {
	// ExcludeTypes drops events whose sensor type name is in the set.
	ExcludeTypes []string
	// Limit caps the number of events; zero means no cap.
	Limit int
}

func (o ListOptions) query() (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(o.ExcludeTypes)+1)

	b.WriteString("SELECT id, which, type, event, ts, eventid FROM events")
	if len(o.ExcludeTypes) > 0 {
		b.WriteString(" WHERE type NOT IN (")
		for i, typ := range o.ExcludeTypes {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, typ)
		}
		b.WriteString(")")
	}
	b.WriteString(" ORDER BY ts DESC, id DESC")
	if o.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, o.Limit)
	}
	return b.String(), args
}

// ListEvents yields stored events newest first. The sequence holds a
// database connection until iteration ends, so callers must not use the
// Store from inside the loop.
func (s *Store) ListEvents(ctx context.Context, opts ListOptions) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		query, args := opts.query()
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(Event{}, fmt.Errorf("failed to query events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var ev Event
			if err := rows.Scan(&ev.ID, &ev.Which, &ev.Type, &ev.Event, &ev.Timestamp, &ev.EventID); err != nil {
				yield(Event{}, fmt.Errorf("failed to scan event: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Event{}, fmt.Errorf("failed to read events: %w", err))
		}
	}
}
