// Package duration reconstructs per-event session durations from the log
// itself. Client-reported duration values are recorded but treated as hints:
// whenever a session's start event is visible, the authoritative duration is
// the gap between the event and that start.
package duration

import (
	"context"
	"time"

	"dutylog/internal/activity"
	"dutylog/internal/auditlog"
)

// Annotate fills DurationMs in place for every entry whose session start is
// visible in the slice, and returns the start times of sessions that never
// ended within it. Entries must be in descending time order, the order pages
// are served in; the scan itself runs oldest-first.
//
// An entry whose session start is not visible keeps whatever client hint the
// record carries.
func Annotate(entries []auditlog.Entry) map[string]time.Time {
	starts := make(map[string]time.Time)
	for i := len(entries) - 1; i >= 0; i-- {
		e := &entries[i]
		if e.SessionID == "" {
			continue
		}
		switch e.Kind {
		case activity.KindSessionStart:
			starts[e.SessionID] = e.RecordedAt
			e.DurationMs = millis(0)
		case activity.KindSessionEnd:
			if start, ok := starts[e.SessionID]; ok {
				e.DurationMs = millis(e.RecordedAt.Sub(start).Milliseconds())
				delete(starts, e.SessionID)
			}
		default:
			if start, ok := starts[e.SessionID]; ok {
				e.DurationMs = millis(e.RecordedAt.Sub(start).Milliseconds())
			}
		}
	}
	return starts
}

// Live returns the running duration of a still-open session at the given
// instant.
func Live(startedAt, now time.Time) int64 {
	d := now.Sub(startedAt).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// Watch invokes fn at the given interval with the live duration of every
// open session, until the context is cancelled. It drives the ticking
// duration column for sessions that have no end event yet.
func Watch(ctx context.Context, open map[string]time.Time, interval time.Duration, fn func(map[string]int64)) {
	if len(open) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			live := make(map[string]int64, len(open))
			for id, startedAt := range open {
				live[id] = Live(startedAt, now)
			}
			fn(live)
		}
	}
}

func millis(v int64) *int64 {
	return &v
}
