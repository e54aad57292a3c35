// Package daterange turns symbolic date ranges into concrete ISO date bounds.
package daterange

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pitabwire/clubpulse/model"
)

// DateLayout is the ISO date format sent to the reporting API.
const DateLayout = "2006-01-02"

// Bounds are inclusive ISO date bounds. Both are nil when no date filter
// applies.
type Bounds struct {
	Start *string `json:"start_date"`
	End   *string `json:"end_date"`
}

// Complete reports whether both bounds are present.
func (b Bounds) Complete() bool {
	return b.Start != nil && b.End != nil
}

var lookback = map[model.DateRange]int{
	model.Last7Days:  7,
	model.Last30Days: 30,
	model.Last90Days: 90,
	model.LastYear:   365,
}

// Calculator resolves date ranges against an injected clock.
type Calculator struct {
	clock    clockwork.Clock
	location *time.Location
}

// NewCalculator creates a Calculator. "Today" is the clock's date in loc;
// a nil loc means UTC.
func NewCalculator(clock clockwork.Clock, loc *time.Location) *Calculator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{clock: clock, location: loc}
}

// Calculate maps r to concrete bounds. Relative ranges end today and start
// 7, 30, 90 or 365 days earlier. custom-range passes both dates through
// verbatim, without reordering. Unknown ranges and incomplete custom ranges
// yield empty bounds.
func (c *Calculator) Calculate(r model.DateRange, customStart, customEnd *string) Bounds {
	if r == model.CustomRange {
		if customStart == nil || customEnd == nil || *customStart == "" || *customEnd == "" {
			return Bounds{}
		}
		start, end := *customStart, *customEnd
		return Bounds{Start: &start, End: &end}
	}

	days, ok := lookback[r]
	if !ok {
		return Bounds{}
	}
	today := c.Today()
	start := today.AddDate(0, 0, -days).Format(DateLayout)
	end := today.Format(DateLayout)
	return Bounds{Start: &start, End: &end}
}

// Today returns midnight of the current date in the calculator's location.
func (c *Calculator) Today() time.Time {
	now := c.clock.Now().In(c.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
}

// Inverted reports whether a complete custom range has start after end.
// Such ranges are still sent as-is; callers use this for logging only.
func Inverted(b Bounds) bool {
	if !b.Complete() {
		return false
	}
	start, err1 := time.Parse(DateLayout, *b.Start)
	end, err2 := time.Parse(DateLayout, *b.End)
	if err1 != nil || err2 != nil {
		return false
	}
	return start.After(end)
}
