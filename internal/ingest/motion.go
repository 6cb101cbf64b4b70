package ingest

import (
	"time"

	"github.com/morrildl/providence/pkg/exchange"
)

type motionDecision struct {
	update    bool
	notify    bool
	malformed bool
}

// decideMotion compares an incoming motion timestamp against the stored one
// for the same sensor. Deliveries are unordered, so anything not strictly
// newer than the stored value leaves it alone.
func decideMotion(last string, seen bool, incoming string, threshold time.Duration) motionDecision {
	current, err := parseTimestamp(incoming)
	if err != nil {
		return motionDecision{malformed: true}
	}
	if !seen {
		// first motion from a sensor is the baseline
		return motionDecision{update: true}
	}
	previous, err := parseTimestamp(last)
	if err != nil {
		// an unreadable stored value is replaced as if there were none
		return motionDecision{update: true, malformed: true}
	}
	if !current.After(previous) {
		return motionDecision{}
	}
	return motionDecision{
		update: true,
		notify: current.Sub(previous) > threshold,
	}
}

func parseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(exchange.TimestampLayout, s, time.Local)
}
