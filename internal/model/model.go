package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layouts used for the stored string forms of dates and times.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ManualTitle is the title given to quick entries from the message panel.
const ManualTitle = "Manual Alert"

// Default window used when an event carries no explicit times.
const (
	DefaultStartTime = "09:00"
	DefaultEndTime   = "10:00"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid event")

// Event is a scheduled speech alert as stored in the events table.
type Event struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// Date is the calendar day, "YYYY-MM-DD".
	Date    string `json:"date"`
	Title   string `json:"title"`
	Message string `json:"message"`

	// StartTime / EndTime are wall-clock "HH:MM" on Date.
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	Processed bool       `json:"processed"`
	AudioURL  string     `json:"audio_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Window is the alert window of an event as Unix seconds.
type Window struct {
	Start int64
	End   int64
}

// StartTime returns the window start as a time.Time.
func (w Window) StartTime() time.Time { return time.Unix(w.Start, 0) }

// EndTime returns the window end as a time.Time.
func (w Window) EndTime() time.Time { return time.Unix(w.End, 0) }

// Window computes the alert window of e on its date in loc. Missing times
// fall back to DefaultStartTime / DefaultEndTime.
func (e Event) Window(loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := ParseDate(e.Date, loc)
	if err != nil {
		return Window{}, err
	}
	start, err := atClock(day, orDefault(e.StartTime, DefaultStartTime))
	if err != nil {
		return Window{}, fmt.Errorf("%w: start time: %v", ErrInvalid, err)
	}
	end, err := atClock(day, orDefault(e.EndTime, DefaultEndTime))
	if err != nil {
		return Window{}, fmt.Errorf("%w: end time: %v", ErrInvalid, err)
	}
	return Window{Start: start.Unix(), End: end.Unix()}, nil
}

// Validate checks that e can be stored and synthesized.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalid)
	}
	w, err := e.Window(time.UTC)
	if err != nil {
		return err
	}
	if w.End <= w.Start {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalid)
	}
	return nil
}

// ParseDate parses a "YYYY-MM-DD" string at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalid, s)
	}
	return t, nil
}

// FormatDate renders t as "YYYY-MM-DD" in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatClock renders t as "HH:MM".
func FormatClock(t time.Time) string {
	return t.Format(TimeLayout)
}

// atClock sets the wall clock of day to an "HH:MM" value, seconds zeroed.
func atClock(day time.Time, hhmm string) (time.Time, error) {
	c, err := time.Parse(TimeLayout, strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Occurrence is one concrete instance of a subscribed calendar event after
// recurrence expansion, in the display timezone.
type Occurrence struct {
	SourceID    string
	UID         string
	InstanceKey string

	Summary     string
	Description string

	AllDay bool
	Start  time.Time
	End    time.Time
}
