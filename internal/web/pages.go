package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ttsalert/internal/alert"
	"ttsalert/internal/calendar"
	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
)

type pageRenderer struct {
	index *template.Template
}

func newPageRenderer(fsys fs.FS) (*pageRenderer, error) {
	funcs := template.FuncMap{
		"dayURL": func(year int, date string) string {
			return fmt.Sprintf("/?year=%d&date=%s#%s", year, url.QueryEscape(date), calendar.AnchorFor(date))
		},
	}
	index, err := template.New("index.html").Funcs(funcs).ParseFS(fsys, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &pageRenderer{index: index}, nil
}

type monthLink struct {
	Name   string
	Anchor string
}

type indexPage struct {
	Year     int
	PrevYear int
	NextYear int

	Headers []string
	Rows    [][]calendar.CellView
	Months  []monthLink

	TodayYear   int
	TodayAnchor string
	TodayDate   string

	Selected       string
	SelectedDay    string
	SelectedLong   string
	SelectedEvents []model.Event

	FormDate   string
	DailyLimit int
	Timezone   string

	Msg      string
	Err      string
	AudioURL string
}

// handleIndex renders the year grid.
//
// GET /?year=2025&date=2025-03-14
//   - year: grid year (default: current year)
//   - date: selected day; enables the add-event form
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	now := s.svc.Now()
	loc := s.svc.Location()

	year := parseIntDefault(q.Get("year"), now.Year())
	if year < 1 || year > 9999 {
		year = now.Year()
	}

	var selected *time.Time
	if d := q.Get("date"); d != "" {
		if t, err := model.ParseDate(d, loc); err == nil {
			selected = &t
		}
	}

	events, err := s.svc.List(ctx)
	page := indexPage{
		Year:        year,
		PrevYear:    year - 1,
		NextYear:    year + 1,
		TodayYear:   now.Year(),
		TodayDate:   model.FormatDate(now),
		TodayAnchor: calendar.AnchorFor(model.FormatDate(now)),
		FormDate:    model.FormatDate(now),
		DailyLimit:  s.svc.DailyLimit(),
		Timezone:    loc.String(),
		Msg:         q.Get("msg"),
		Err:         q.Get("err"),
		AudioURL:    q.Get("audio"),
	}
	if err != nil {
		appLog.Error("index: list events failed", err)
		page.Err = "Failed to load events: " + err.Error()
	}

	grid := calendar.GenerateYear(year, calendar.ParseWeekStart(s.cfg.WeekStart))
	page.Headers = grid.Headers()
	page.Rows = calendar.Overlay(grid, events, now, selected)
	for m := time.January; m <= time.December; m++ {
		page.Months = append(page.Months, monthLink{
			Name:   m.String(),
			Anchor: calendar.AnchorFor(model.FormatDate(time.Date(year, m, 1, 0, 0, 0, 0, time.UTC))),
		})
	}

	if selected != nil {
		page.Selected = model.FormatDate(*selected)
		page.SelectedDay = selected.Weekday().String()
		page.SelectedLong = selected.Format("January 2, 2006")
		page.SelectedEvents = calendar.EventsOn(events, page.Selected)
		page.FormDate = page.Selected
	}

	var buf bytes.Buffer
	if err := s.pages.index.Execute(&buf, page); err != nil {
		appLog.Error("index: render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectBack(w, r, "", "", "", "Invalid form: "+err.Error())
		return
	}
	date := r.PostFormValue("date")
	_, err := s.svc.Create(r.Context(), model.Event{
		Date:      date,
		Title:     r.PostFormValue("title"),
		Message:   r.PostFormValue("message"),
		StartTime: r.PostFormValue("start_time"),
		EndTime:   r.PostFormValue("end_time"),
	})
	if err != nil {
		redirectBack(w, r, date, "", "", "Error saving event: "+err.Error())
		return
	}
	redirectBack(w, r, date, "Event saved! Audio queued.", "", "")
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	date := r.FormValue("date")
	if err := s.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		redirectBack(w, r, date, "", "", "Failed to delete: "+err.Error())
		return
	}
	redirectBack(w, r, date, "Event deleted.", "", "")
}

func (s *Server) handleConvertForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectBack(w, r, "", "", "", "Invalid form: "+err.Error())
		return
	}
	date := r.PostFormValue("date")
	ev, err := s.svc.Quick(r.Context(), alert.QuickRequest{
		Text:      r.PostFormValue("text"),
		Date:      date,
		StartTime: r.PostFormValue("start_time"),
		EndTime:   r.PostFormValue("end_time"),
	})
	switch {
	case err != nil && ev.ID != "":
		redirectBack(w, r, date, "Event saved; audio will be generated later.", "", err.Error())
	case err != nil:
		redirectBack(w, r, date, "", "", err.Error())
	default:
		redirectBack(w, r, date, "Audio ready!", ev.AudioURL, "")
	}
}

func (s *Server) handleRefreshForm(w http.ResponseWriter, r *http.Request) {
	date := r.FormValue("date")
	if err := s.svc.Refresh(r.Context()); err != nil {
		appLog.Error("refresh failed", err)
		redirectBack(w, r, date, "", "", err.Error())
		return
	}
	redirectBack(w, r, date, "System refreshed! Audio updated.", "", "")
}

// redirectBack sends the browser to the grid (post/redirect/get), keeping
// the selected date and carrying a flash message in the query string.
func redirectBack(w http.ResponseWriter, r *http.Request, date, msg, audio, errMsg string) {
	q := url.Values{}
	anchor := ""
	if t, err := time.Parse(model.DateLayout, date); err == nil {
		q.Set("year", strconv.Itoa(t.Year()))
		q.Set("date", date)
		anchor = "#" + calendar.AnchorFor(date)
	}
	if msg != "" {
		q.Set("msg", msg)
	}
	if audio != "" {
		q.Set("audio", audio)
	}
	if errMsg != "" {
		q.Set("err", errMsg)
	}
	target := "/"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target+anchor, http.StatusSeeOther)
}
