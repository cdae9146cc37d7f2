package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Weekdays is a set of days of the week, one bit per time.Weekday.
//
// Its text form is a comma separated list of day names ("mon,tue,fri"),
// which is how rule documents in JSON and YAML spell it.
type Weekdays uint8

// EveryDay contains all seven days.
const EveryDay Weekdays = 1<<7 - 1

var dayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

var dayByName = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 14)
	for i, name := range dayNames {
		d := time.Weekday(i)
		m[name] = d
		m[strings.ToLower(d.String())] = d
	}
	return m
}()

// DaysOf returns the set containing the given days.
func DaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// Has reports whether d is in the set.
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// IsZero reports whether the set is empty.
func (w Weekdays) IsZero() bool { return w == 0 }

func (w Weekdays) String() string {
	names := make([]string, 0, 7)
	// Monday first, the way stores print opening hours.
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if w.Has(d) {
			names = append(names, dayNames[d])
		}
	}
	return strings.Join(names, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (w Weekdays) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Weekdays) UnmarshalText(text []byte) error {
	v, err := ParseWeekdays(string(text))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// ParseWeekdays parses a comma separated list of day names. Both short
// ("tue") and full ("tuesday") names are accepted, case-insensitively.
func ParseWeekdays(s string) (Weekdays, error) {
	var w Weekdays
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "all" || part == "daily" {
			w |= EveryDay
			continue
		}
		d, ok := dayByName[part]
		if !ok {
			return 0, errors.Errorf("unknown weekday %q", part)
		}
		w |= 1 << uint(d)
	}
	return w, nil
}

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

// Clock returns the ClockTime for the given hour and minute.
func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClock parses a 24-hour "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "parse clock %q", s)
	}
	return Clock(t.Hour(), t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(text []byte) error {
	v, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TimeWindow is an inclusive time-of-day range. When Start is after End the
// window wraps past midnight.
type TimeWindow struct {
	Start ClockTime `json:"start" yaml:"start" validate:"gte=0,lt=1440"`
	End   ClockTime `json:"end" yaml:"end" validate:"gte=0,lt=1440"`
}

// Wraps reports whether the window crosses midnight.
func (tw TimeWindow) Wraps() bool { return tw.Start > tw.End }

// contains reports whether t falls inside the window. The second result is
// true when t is in the part of a wrapped window that follows midnight, so
// the window opened on the previous day.
func (tw TimeWindow) contains(t time.Time) (in, afterMidnight bool) {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	start, end := int(tw.Start)*60, int(tw.End)*60
	if !tw.Wraps() {
		return sec >= start && sec <= end, false
	}
	if sec >= start {
		return true, false
	}
	if sec <= end {
		return true, true
	}
	return false, false
}

// Schedule combines a day set and an optional time window.
// A zero Days means every day; a nil Window means all day.
type Schedule struct {
	Days   Weekdays
	Window *TimeWindow
}

// ActiveAt reports whether the schedule is open at t, in t's location.
//
// The portion of a wrapped window that falls after midnight belongs to the
// day the window opened: a Friday 22:00-02:00 window is open at Saturday
// 01:00 only when Friday is enabled.
func (s Schedule) ActiveAt(t time.Time) bool {
	days := s.Days
	if days.IsZero() {
		days = EveryDay
	}
	if s.Window == nil {
		return days.Has(t.Weekday())
	}
	in, afterMidnight := s.Window.contains(t)
	if !in {
		return false
	}
	day := t.Weekday()
	if afterMidnight {
		day = (day + 6) % 7
	}
	return days.Has(day)
}
