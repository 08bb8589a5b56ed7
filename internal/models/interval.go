package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned for intervals whose end is not strictly after the start.
var ErrInvalidInterval = errors.New("invalid interval: end must be after start")

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// TimeInterval is a half-open [start, end) window. The zero value is not a valid
// interval; build one with NewTimeInterval or ParseInterval.
type TimeInterval struct {
	start time.Time
	end   time.Time
}

// NewTimeInterval stores whole seconds, widening sub-second bounds outward so
// a fractional overlap is still an overlap.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if !end.After(start) {
		return TimeInterval{}, fmt.Errorf("%w: start=%s end=%s", ErrInvalidInterval,
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	start = start.UTC().Truncate(time.Second)
	end = ceilSecond(end.UTC())
	if !end.After(start) {
		return TimeInterval{}, fmt.Errorf("%w: start=%s end=%s", ErrInvalidInterval,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeInterval{start: start, end: end}, nil
}

func ceilSecond(t time.Time) time.Time {
	if f := t.Truncate(time.Second); !f.Equal(t) {
		return f.Add(time.Second)
	}
	return t
}

// ParseInterval builds an interval from a calendar date and two wall-clock times
// interpreted in loc.
func ParseInterval(date, startClock, endClock string, loc *time.Location) (TimeInterval, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return TimeInterval{}, fmt.Errorf("%w: bad date %q", ErrInvalidInterval, date)
	}
	start, err := atClock(day, startClock)
	if err != nil {
		return TimeInterval{}, err
	}
	end, err := atClock(day, endClock)
	if err != nil {
		return TimeInterval{}, err
	}
	return NewTimeInterval(start, end)
}

func atClock(day time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", ErrInvalidInterval, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}

// DayInterval covers the whole calendar day of t in loc.
func DayInterval(t time.Time, loc *time.Location) TimeInterval {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	iv, _ := NewTimeInterval(start, start.AddDate(0, 0, 1))
	return iv
}

func (i TimeInterval) Start() time.Time        { return i.start }
func (i TimeInterval) End() time.Time          { return i.end }
func (i TimeInterval) Duration() time.Duration { return i.end.Sub(i.start) }
func (i TimeInterval) IsZero() bool            { return i.start.IsZero() && i.end.IsZero() }

func (i TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", i.start.Format(time.RFC3339), i.end.Format(time.RFC3339))
}

type intervalJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i TimeInterval) MarshalJSON() ([]byte, error) {
	return json.Marshal(intervalJSON{Start: i.start, End: i.end})
}

func (i *TimeInterval) UnmarshalJSON(data []byte) error {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	iv, err := NewTimeInterval(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*i = iv
	return nil
}
