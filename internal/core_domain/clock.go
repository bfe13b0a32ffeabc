package core_domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const localDateLayout = "2006-01-02"

// LocalDate is a calendar date in a rule's timezone; it keys the daily quota bucket.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// LocalDateOf returns the calendar date of t in t's own location.
func LocalDateOf(t time.Time) LocalDate {
	y, m, d := t.Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

// ParseLocalDate parses YYYY-MM-DD.
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(localDateLayout, s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("parse local date %q: %w", s, err)
	}
	return LocalDateOf(t), nil
}

// Time returns midnight UTC of d, the form stored in date columns.
func (d LocalDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d LocalDate) String() string {
	return d.Time().Format(localDateLayout)
}

func (d LocalDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d LocalDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *LocalDate) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS, optionally with fractional seconds as emitted by Postgres time::text.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		s = s[:dot]
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	vals := make([]int, 3)
	limits := []int{23, 59, 59}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
		}
		vals[i] = n
	}
	return TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// On returns the UTC instant of this wall-clock time on date d in loc.
// Times that fall into a DST gap are normalized forward by time.Date.
func (t TimeOfDay) On(d LocalDate, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, 0, loc).UTC()
}

// LoadLocation resolves an IANA zone name or a fixed offset written as UTC, UTC+3, UTC-05:30 or GMT+2.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimezone)
	}
	upper := strings.ToUpper(name)
	for _, prefix := range []string{"UTC", "GMT"} {
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		rest := upper[len(prefix):]
		if rest == "" {
			return time.UTC, nil
		}
		if offset, err := parseOffset(rest); err == nil {
			return time.FixedZone(upper, offset), nil
		}
		// Names such as GMT0 or UTC/... are left to the zone database.
		break
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

func parseOffset(s string) (int, error) {
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("offset must start with + or -")
	}
	s = s[1:]
	hStr, mStr := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hStr, mStr = s[:i], s[i+1:]
	}
	h, err := offsetPart(hStr)
	if err != nil || h > 14 {
		return 0, fmt.Errorf("bad hour offset %q", hStr)
	}
	m, err := offsetPart(mStr)
	if err != nil || m > 59 {
		return 0, fmt.Errorf("bad minute offset %q", mStr)
	}
	return sign * (h*3600 + m*60), nil
}

// offsetPart parses one or two unsigned digits.
func offsetPart(s string) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("want 1-2 digits, got %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("want digits, got %q", s)
		}
	}
	return strconv.Atoi(s)
}
