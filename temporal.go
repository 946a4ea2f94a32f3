package fhirpath

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Temporal is a date, datetime, or time value.  The original literal text
// is retained so formatting and SQL rendering can reproduce the source
// precision.
type Temporal struct {
	Kind Kind
	Time time.Time
	Text string
}

var dateLayouts = []string{"2006", "2006-01", "2006-01-02"}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
}

var timeLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04", "15"}

// ParseTemporal parses the body of a date/time literal, the text following
// the "@" marker.  A leading "T" selects a time-of-day value; a "T" later
// in the text selects a datetime; anything else is a date.
func ParseTemporal(text string) (Temporal, error) {
	switch {
	case strings.HasPrefix(text, "T"):
		return parseLayouts(KindTime, strings.TrimPrefix(text, "T"), timeLayouts, text)
	case strings.HasSuffix(text, "T"):
		// A datetime with date precision, like @2015T.
		return parseLayouts(KindDateTime, strings.TrimSuffix(text, "T"), dateLayouts, text)
	case strings.Contains(text, "T"):
		return parseLayouts(KindDateTime, text, dateTimeLayouts, text)
	default:
		return parseLayouts(KindDate, text, dateLayouts, text)
	}
}

func parseLayouts(kind Kind, text string, layouts []string, orig string) (Temporal, error) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return Temporal{Kind: kind, Time: t, Text: orig}, nil
		}
	}
	return Temporal{}, fmt.Errorf("invalid %s literal %q", strings.ToLower(kind.String()), orig)
}

// ParseRecordTemporal converts a temporal field of a record to a value of
// the declared kind.  Record data is not under the compiler's control, so
// parsing is lenient where literal parsing is strict.
func ParseRecordTemporal(kind Kind, text string) (Temporal, error) {
	if tv, err := ParseTemporal(text); err == nil {
		tv.Kind = kind
		return tv, nil
	}
	t, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return Temporal{}, fmt.Errorf("invalid %s value %q", strings.ToLower(kind.String()), text)
	}
	return Temporal{Kind: kind, Time: t, Text: text}, nil
}

func (t Temporal) String() string {
	if t.Text != "" {
		return t.Text
	}
	switch t.Kind {
	case KindDate:
		return t.Time.Format("2006-01-02")
	case KindTime:
		return t.Time.Format("15:04:05")
	default:
		return t.Time.Format(time.RFC3339)
	}
}

// Compare orders two temporal values of the same kind, treating a date and
// a datetime as comparable after date-to-datetime widening.
func (t Temporal) Compare(u Temporal) int {
	return t.Time.Compare(u.Time)
}
