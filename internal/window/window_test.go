package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastWeek(t *testing.T) {
	now := time.Date(2024, 3, 15, 13, 45, 12, 0, time.Local)
	win := LastWeek(now)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local), win.End, "end is local midnight of the invocation date")
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.Local), win.Start)
	assert.Equal(t, 7*24*time.Hour, win.End.Sub(win.Start))
	assert.True(t, win.Start.Before(win.End))
}

func TestLastWeekAtMidnight(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local)
	win := LastWeek(now)
	assert.Equal(t, now, win.End)
}

func TestContainsHalfOpen(t *testing.T) {
	win := Window{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, time.Local),
		End:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local),
	}

	assert.True(t, win.Contains(win.Start), "start is included")
	assert.False(t, win.Contains(win.End), "end is excluded")
	assert.True(t, win.Contains(time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)))
	assert.False(t, win.Contains(win.Start.Add(-time.Second)))
}

func TestEpochRoundTrip(t *testing.T) {
	win := LastWeek(time.Date(2024, 3, 15, 9, 0, 0, 0, time.Local))
	again := FromEpoch(win.StartEpoch(), win.EndEpoch())

	assert.True(t, win.Start.Equal(again.Start))
	assert.True(t, win.End.Equal(again.End))
}

func TestHeader(t *testing.T) {
	win := Window{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, time.Local),
		End:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local),
	}
	assert.Equal(t, "From 2024-03-08 00:00:00 to 2024-03-15 00:00:00:", win.Header())
}
