package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar date with no time-of-day component. All tariff windows
// are end-exclusive: a row effective [start, end) covers start but not end.
type Date struct {
	t time.Time
}

// DateLayout is the wire format for dates (ISO-8601 calendar date).
const DateLayout = "2006-01-02"

// NewDate builds a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO calendar date ("2025-12-15").
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustDate parses s or panics. Seed data and tests only.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateFromTime truncates a timestamp to its UTC calendar date.
func DateFromTime(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// Today returns the current UTC calendar date.
func Today() Date {
	return DateFromTime(time.Now())
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Before reports d < other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports d > other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports d == other.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Time returns the date as a UTC midnight timestamp.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string { return d.t.Format(DateLayout) }

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer so dates bind to Postgres DATE columns.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.t, nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateFromTime(v)
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into domain.Date", src)
	}
}

// Window is an end-exclusive effective window. A nil End means the window is
// open (extends to +infinity).
type Window struct {
	Start Date  `json:"effective_start"`
	End   *Date `json:"effective_end,omitempty"`
}

// Contains reports whether the window covers d (start <= d < end).
func (w Window) Contains(d Date) bool {
	if d.Before(w.Start) {
		return false
	}
	if w.End == nil {
		return true
	}
	return d.Before(*w.End)
}

// Open reports whether the window has no end.
func (w Window) Open() bool { return w.End == nil }

// Overlaps reports whether two windows share at least one date.
func (w Window) Overlaps(other Window) bool {
	if other.End != nil && !w.Start.Before(*other.End) {
		return false
	}
	if w.End != nil && !other.Start.Before(*w.End) {
		return false
	}
	return true
}
