package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/morrildl/providence/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2013, time.May, 10, 12, 0, 0, 0, time.Local)

func setupTestDB(t *testing.T) *db.Store {
	store, err := db.Open("file:"+filepath.Join(t.TempDir(), "providence.db"),
		db.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	err = store.Initialize(context.Background())
	require.NoError(t, err)

	return store
}

func ts(tm time.Time) string {
	return tm.Format("2006-01-02T15:04:05")
}

func event(which, typ, name string, when time.Time) db.Event {
	return db.Event{Which: which, Type: typ, Event: name, Timestamp: ts(when)}
}

func appendEvents(t *testing.T, store *db.Store, events ...db.Event) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(events))
	err := store.Update(context.Background(), func(tx *db.Tx) error {
		for _, ev := range events {
			id, err := tx.Append(context.Background(), ev)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func listAll(t *testing.T, store *db.Store, opts db.ListOptions) []db.Event {
	t.Helper()
	var out []db.Event
	for ev, err := range store.ListEvents(context.Background(), opts) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	defer store.Close()

	t.Run("valid event", func(t *testing.T) {
		ids := appendEvents(t, store, event("FrontDoor", "Door", "Opened", testNow))
		assert.Greater(t, ids[0], int64(0))
	})

	t.Run("ids increase", func(t *testing.T) {
		ids := appendEvents(t, store,
			event("FrontDoor", "Door", "Closed", testNow),
			event("BackDoor", "Door", "Opened", testNow))
		assert.Less(t, ids[0], ids[1])
	})

	t.Run("event id kept", func(t *testing.T) {
		ev := event("Garage", "Door", "Ajar", testNow.Add(time.Minute))
		ev.EventID = "a1b2c3"
		appendEvents(t, store, ev)
		got := listAll(t, store, db.ListOptions{Limit: 1})
		require.Len(t, got, 1)
		assert.Equal(t, "a1b2c3", got[0].EventID)
	})

	validation := []struct {
		name string
		ev   db.Event
		want error
	}{
		{"empty which", event("", "Door", "Opened", testNow), db.ErrEmptyWhich},
		{"empty type", event("FrontDoor", "", "Opened", testNow), db.ErrEmptyType},
		{"empty event", event("FrontDoor", "Door", "", testNow), db.ErrEmptyEvent},
	}
	for _, tt := range validation {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Update(ctx, func(tx *db.Tx) error {
				_, err := tx.Append(ctx, tt.ev)
				return err
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	defer store.Close()

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx *db.Tx) error {
		if _, err := tx.Append(ctx, event("FrontDoor", "Door", "Opened", testNow)); err != nil {
			return err
		}
		if err := tx.UpsertMotionState(ctx, "Hallway", ts(testNow)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, listAll(t, store, db.ListOptions{}))
	_, ok, err := store.LatestMotion(ctx, "Hallway")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMotionState(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	defer store.Close()

	query := func(which string) (string, bool) {
		var got string
		var ok bool
		require.NoError(t, store.Update(ctx, func(tx *db.Tx) error {
			var err error
			got, ok, err = tx.QueryMotionState(ctx, which)
			return err
		}))
		return got, ok
	}
	upsert := func(which, stamp string) {
		require.NoError(t, store.Update(ctx, func(tx *db.Tx) error {
			return tx.UpsertMotionState(ctx, which, stamp)
		}))
	}

	t.Run("unknown sensor", func(t *testing.T) {
		_, ok := query("Hallway")
		assert.False(t, ok)
	})

	t.Run("insert then replace", func(t *testing.T) {
		upsert("Hallway", "2013-05-10T10:00:00")
		got, ok := query("Hallway")
		require.True(t, ok)
		assert.Equal(t, "2013-05-10T10:00:00", got)

		upsert("Hallway", "2013-05-10T11:00:00")
		got, _ = query("Hallway")
		assert.Equal(t, "2013-05-10T11:00:00", got)
	})

	t.Run("latest across sensors", func(t *testing.T) {
		upsert("Kitchen", "2013-05-10T11:30:00")
		got, ok, err := store.LatestMotion(ctx, "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2013-05-10T11:30:00", got)

		got, ok, err = store.LatestMotion(ctx, "Hallway")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2013-05-10T11:00:00", got)
	})

	t.Run("empty which", func(t *testing.T) {
		err := store.Update(ctx, func(tx *db.Tx) error {
			return tx.UpsertMotionState(ctx, "", "2013-05-10T11:00:00")
		})
		assert.ErrorIs(t, err, db.ErrEmptyWhich)
	})
}

func TestGarbageCollect(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	defer store.Close()

	appendEvents(t, store,
		event("Old", "Door", "Opened", testNow.Add(-8*24*time.Hour)),
		event("Recent", "Door", "Opened", testNow.Add(-6*24*time.Hour)),
	)

	var removed int64
	err := store.Update(ctx, func(tx *db.Tx) error {
		var err error
		removed, err = tx.GarbageCollect(ctx, 7*24*time.Hour)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got := listAll(t, store, db.ListOptions{})
	require.Len(t, got, 1)
	assert.Equal(t, "Recent", got[0].Which)
}

func TestGarbageCollectKeepsUnparseable(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	defer store.Close()

	appendEvents(t, store,
		db.Event{Which: "Empty", Type: "Door", Event: "Opened", Timestamp: ""},
		db.Event{Which: "Slashed", Type: "Door", Event: "Opened", Timestamp: "05/01/2013 10:00"},
		db.Event{Which: "Spaced", Type: "Door", Event: "Opened", Timestamp: "2013-05-01 10:00:00"},
		event("Old", "Door", "Opened", testNow.Add(-8*24*time.Hour)),
	)

	var removed int64
	err := store.Update(ctx, func(tx *db.Tx) error {
		var err error
		removed, err = tx.GarbageCollect(ctx, 7*24*time.Hour)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var which []string
	for _, ev := range listAll(t, store, db.ListOptions{}) {
		which = append(which, ev.Which)
	}
	assert.ElementsMatch(t, []string{"Empty", "Slashed", "Spaced"}, which)
}

func TestListEvents(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	appendEvents(t, store,
		event("FrontDoor", "Door", "Opened", testNow.Add(-3*time.Hour)),
		event("Hallway", "Motion Sensor", "Detected Motion", testNow.Add(-2*time.Hour)),
		event("Bedroom", "Window", "Ajar", testNow.Add(-1*time.Hour)),
		event("FrontDoor", "Door", "Closed", testNow.Add(-1*time.Hour)),
	)

	t.Run("newest first", func(t *testing.T) {
		got := listAll(t, store, db.ListOptions{})
		require.Len(t, got, 4)
		// equal timestamps fall back to insertion order, newest first
		assert.Equal(t, "Closed", got[0].Event)
		assert.Equal(t, "Bedroom", got[1].Which)
		assert.Equal(t, "Hallway", got[2].Which)
		assert.Equal(t, "Opened", got[3].Event)
	})

	t.Run("exclude types", func(t *testing.T) {
		got := listAll(t, store, db.ListOptions{ExcludeTypes: []string{"Motion Sensor", "Window"}})
		require.Len(t, got, 2)
		for _, ev := range got {
			assert.Equal(t, "Door", ev.Type)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got := listAll(t, store, db.ListOptions{Limit: 2})
		assert.Len(t, got, 2)
	})

	t.Run("stop early", func(t *testing.T) {
		n := 0
		for _, err := range store.ListEvents(context.Background(), db.ListOptions{}) {
			require.NoError(t, err)
			n++
			break
		}
		assert.Equal(t, 1, n)
		// the connection must be released once the loop exits
		assert.Len(t, listAll(t, store, db.ListOptions{}), 4)
	})
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	defer store.Close()

	appendEvents(t, store, event("FrontDoor", "Door", "Opened", testNow))
	require.NoError(t, store.Update(ctx, func(tx *db.Tx) error {
		return tx.UpsertMotionState(ctx, "Hallway", ts(testNow))
	}))

	require.NoError(t, store.ClearAll(ctx))

	assert.Empty(t, listAll(t, store, db.ListOptions{}))
	_, ok, err := store.LatestMotion(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrency(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	const numGoroutines = 10
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(context.Background(), func(tx *db.Tx) error {
				_, err := tx.Append(context.Background(), event("FrontDoor", "Door", "Opened", testNow))
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, listAll(t, store, db.ListOptions{}), numGoroutines)
}

func TestDatabaseErrors(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	t.Run("operations after close", func(t *testing.T) {
		err := store.Close()
		require.NoError(t, err)

		err = store.Update(ctx, func(tx *db.Tx) error { return nil })
		assert.Error(t, err)

		err = store.ClearAll(ctx)
		assert.Error(t, err)

		_, _, err = store.LatestMotion(ctx, "")
		assert.Error(t, err)

		for _, err := range store.ListEvents(ctx, db.ListOptions{}) {
			assert.Error(t, err)
		}
	})
}
