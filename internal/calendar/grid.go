// Package calendar builds the continuous year grid shown by the Web UI:
// one row per week, padded at both ends so the first and last rows are full,
// with the scheduled events overlaid on each day cell.
package calendar

import (
	"strings"
	"time"

	"ttsalert/internal/model"
)

// Cell is a single day of the grid. Outside marks padding days that belong
// to the previous or next year.
type Cell struct {
	Year    int
	Month   time.Month
	Day     int
	Outside bool
}

// Date returns the cell's day at midnight UTC.
func (c Cell) Date() time.Time {
	return time.Date(c.Year, c.Month, c.Day, 0, 0, 0, 0, time.UTC)
}

// Key returns the cell's "YYYY-MM-DD" date, the same form events are stored in.
func (c Cell) Key() string {
	return model.FormatDate(c.Date())
}

// AnchorFor returns the DOM id for a "YYYY-MM-DD" date.
func AnchorFor(date string) string {
	return "d-" + date
}

// Grid is the padded list of day cells for one year.
type Grid struct {
	Year      int
	WeekStart time.Weekday
	Cells     []Cell
}

// ParseWeekStart maps "monday" to time.Monday; anything else is Sunday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "monday") {
		return time.Monday
	}
	return time.Sunday
}

// GenerateYear lays out every day of year in week rows that begin on
// weekStart. Days of December of the previous year fill the first row
// before Jan 1, and days of January of the next year fill the last row.
func GenerateYear(year int, weekStart time.Weekday) Grid {
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	lead := (int(jan1.Weekday()) - int(weekStart) + 7) % 7

	cells := make([]Cell, 0, 371)
	for i := lead; i > 0; i-- {
		cells = append(cells, cellOf(jan1.AddDate(0, 0, -i), true))
	}
	for d := jan1; d.Year() == year; d = d.AddDate(0, 0, 1) {
		cells = append(cells, cellOf(d, false))
	}
	if rem := len(cells) % 7; rem > 0 {
		next := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 7-rem; i++ {
			cells = append(cells, cellOf(next.AddDate(0, 0, i), true))
		}
	}

	return Grid{Year: year, WeekStart: weekStart, Cells: cells}
}

func cellOf(d time.Time, outside bool) Cell {
	return Cell{Year: d.Year(), Month: d.Month(), Day: d.Day(), Outside: outside}
}

// Weeks slices the grid into rows of seven cells.
func (g Grid) Weeks() [][]Cell {
	weeks := make([][]Cell, 0, len(g.Cells)/7)
	for i := 0; i < len(g.Cells); i += 7 {
		end := min(i+7, len(g.Cells))
		weeks = append(weeks, g.Cells[i:end])
	}
	return weeks
}

// Index returns the position of month/day of the grid year, or -1 when the
// date does not exist (e.g. Feb 30) or is not part of the grid.
func (g Grid) Index(month time.Month, day int) int {
	for i, c := range g.Cells {
		if !c.Outside && c.Month == month && c.Day == day {
			return i
		}
	}
	return -1
}

// IsNewMonth reports whether cell i starts a month run; the month label is
// drawn on those cells.
func (g Grid) IsNewMonth(i int) bool {
	if i < 0 || i >= len(g.Cells) {
		return false
	}
	return i == 0 || g.Cells[i-1].Month != g.Cells[i].Month
}

// Headers returns the abbreviated weekday names in column order.
func (g Grid) Headers() []string {
	out := make([]string, 7)
	for i := range out {
		out[i] = time.Weekday((int(g.WeekStart) + i) % 7).String()[:3]
	}
	return out
}

// MonthNames returns the English month names, January first.
func MonthNames() []string {
	out := make([]string, 12)
	for i := range out {
		out[i] = time.Month(i + 1).String()
	}
	return out
}
