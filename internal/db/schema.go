package db

// Timestamps are stored as zero-padded local time strings, so lexical order
// in ts columns is chronological order.

const CREATE_EVENTS_TABLE = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	which TEXT NOT NULL,
	type TEXT NOT NULL,
	event TEXT NOT NULL,
	ts TEXT NOT NULL,
	eventid TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_ts ON events (ts);
`

const CREATE_LAST_MOTION_TABLE = `
CREATE TABLE IF NOT EXISTS last_motion (
	which TEXT PRIMARY KEY,
	ts TEXT NOT NULL
);
`

// TS_PATTERN matches timestamps that start with the 2006-01-02T15:04:05
// layout. Rows that do not match have no known age and are never collected.
const TS_PATTERN = "[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T[0-9][0-9]:[0-9][0-9]:[0-9][0-9]*"

const CREATE_ALL_TABLES = CREATE_EVENTS_TABLE + CREATE_LAST_MOTION_TABLE

const (
	INSERT_EVENT         = "INSERT INTO events (which, type, event, ts, eventid) VALUES (?, ?, ?, ?, ?)"
	REPLACE_LAST_MOTION  = "INSERT OR REPLACE INTO last_motion (which, ts) VALUES (?, ?)"
	SELECT_LAST_MOTION   = "SELECT ts FROM last_motion WHERE which = ?"
	SELECT_NEWEST_MOTION = "SELECT ts FROM last_motion ORDER BY ts DESC LIMIT 1"
	DELETE_OLD_EVENTS    = "DELETE FROM events WHERE ts GLOB '" + TS_PATTERN + "' AND ts < ?"
)
