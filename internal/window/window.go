// Package window computes the reporting time window.
package window

import (
	"fmt"
	"time"
)

// timeFormat matches the timestamps printed in job output headers
const timeFormat = "2006-01-02 15:04:05"

// Window is the half-open [Start, End) range a report covers
type Window struct {
	Start time.Time
	End   time.Time
}

// LastWeek returns the window from local midnight seven days ago
// up to local midnight of now's date.
func LastWeek(now time.Time) Window {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Window{
		Start: end.AddDate(0, 0, -7),
		End:   end,
	}
}

// FromEpoch builds a window from epoch-second boundaries
func FromEpoch(start, end int64) Window {
	return Window{
		Start: time.Unix(start, 0),
		End:   time.Unix(end, 0),
	}
}

// StartEpoch returns the start boundary in epoch seconds
func (w Window) StartEpoch() int64 {
	return w.Start.Unix()
}

// EndEpoch returns the end boundary in epoch seconds
func (w Window) EndEpoch() int64 {
	return w.End.Unix()
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Header returns the "From ... to ...:" line every job writes first
func (w Window) Header() string {
	return fmt.Sprintf("From %s to %s:", w.Start.Format(timeFormat), w.End.Format(timeFormat))
}
