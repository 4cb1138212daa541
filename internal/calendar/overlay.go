package calendar

import (
	"time"

	"ttsalert/internal/model"
)

// CellView is a grid cell decorated for rendering.
type CellView struct {
	Cell
	Anchor     string
	Events     []model.Event
	IsToday    bool
	IsSelected bool
	IsNewMonth bool
	MonthName  string
}

// Overlay decorates every cell of g with the events stored for its date and
// the today/selected flags, returning the rows in display order. selected
// may be nil when no date is picked.
func Overlay(g Grid, events []model.Event, today time.Time, selected *time.Time) [][]CellView {
	byDate := GroupByDate(events)

	todayKey := model.FormatDate(today)
	selectedKey := ""
	if selected != nil {
		selectedKey = model.FormatDate(*selected)
	}

	rows := make([][]CellView, 0, len(g.Cells)/7)
	for wi, week := range g.Weeks() {
		row := make([]CellView, len(week))
		for di, c := range week {
			idx := wi*7 + di
			key := c.Key()
			v := CellView{
				Cell:       c,
				Anchor:     AnchorFor(key),
				Events:     byDate[key],
				IsToday:    key == todayKey,
				IsSelected: key == selectedKey,
				IsNewMonth: g.IsNewMonth(idx),
			}
			if v.IsNewMonth {
				v.MonthName = c.Month.String()
			}
			row[di] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// GroupByDate indexes events by their Date, preserving input order.
func GroupByDate(events []model.Event) map[string][]model.Event {
	out := make(map[string][]model.Event)
	for _, e := range events {
		out[e.Date] = append(out[e.Date], e)
	}
	return out
}

// EventsOn returns the events stored for a "YYYY-MM-DD" date.
func EventsOn(events []model.Event, date string) []model.Event {
	var out []model.Event
	for _, e := range events {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}
