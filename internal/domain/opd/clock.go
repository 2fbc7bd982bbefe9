package opd

import (
	"encoding/json"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a queue day: a calendar date in the clock's reference timezone,
// stored as midnight UTC so it round-trips through a Postgres DATE unchanged.
type Day struct {
	time.Time
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, validationf("date must be YYYY-MM-DD, got %q", s)
	}
	return Day{t}, nil
}

func (d Day) String() string { return d.Format(dayLayout) }

func (d Day) AddDays(n int) Day { return Day{d.AddDate(0, 0, n)} }

func (d Day) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock decides which queue day an instant belongs to. The day is the
// calendar date in loc, so a daylight-saving shift changes the length of a
// day but never which day a check-in lands on.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{loc: loc, now: time.Now}
}

// WithNow returns a copy of the clock reading time from now.
func (c Clock) WithNow(now func() time.Time) Clock {
	c.now = now
	return c
}

func (c Clock) Location() *time.Location { return c.loc }

func (c Clock) Now() time.Time { return c.now().In(c.loc) }

func (c Clock) DayOf(t time.Time) Day {
	y, m, d := t.In(c.loc).Date()
	return NewDay(y, m, d)
}

func (c Clock) Today() Day { return c.DayOf(c.now()) }
