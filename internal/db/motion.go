package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertMotionState records ts as the last accepted motion for which,
// replacing any earlier row.
func (t *Tx) UpsertMotionState(ctx context.Context, which, ts string) error {
	if which == "" {
		return ErrEmptyWhich
	}
	if _, err := t.tx.ExecContext(ctx, REPLACE_LAST_MOTION, which, ts); err != nil {
		return fmt.Errorf("failed to replace motion state: %w", err)
	}
	return nil
}

// QueryMotionState returns the stored motion timestamp for which; ok is false
// when the sensor has never reported motion.
func (t *Tx) QueryMotionState(ctx context.Context, which string) (ts string, ok bool, err error) {
	return scanMotion(t.tx.QueryRowContext(ctx, SELECT_LAST_MOTION, which))
}

// LatestMotion is the read path variant of QueryMotionState. An empty which
// returns the newest motion across all sensors.
func (s *Store) LatestMotion(ctx context.Context, which string) (string, bool, error) {
	if which == "" {
		return scanMotion(s.db.QueryRowContext(ctx, SELECT_NEWEST_MOTION))
	}
	return scanMotion(s.db.QueryRowContext(ctx, SELECT_LAST_MOTION, which))
}

func scanMotion(row *sql.Row) (string, bool, error) {
	var ts string
	err := row.Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get motion state: %w", err)
	}
	return ts, true, nil
}
