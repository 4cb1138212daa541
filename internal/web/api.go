package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ttsalert/internal/alert"
	"ttsalert/internal/calendar"
	"ttsalert/internal/ics"
	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
)

const maxBodyBytes = 64 << 10

// eventRequest is the JSON body of POST /api/events and POST /api/convert.
// For convert, Text is used and Title is ignored.
type eventRequest struct {
	Date      string `json:"date"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Text      string `json:"text"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type eventsResponse struct {
	Events     []model.Event `json:"events"`
	DailyLimit int           `json:"daily_limit"`
	Timezone   string        `json:"timezone"`
}

type convertResponse struct {
	Event model.Event `json:"event"`
	URL   string      `json:"url"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", model.ErrInvalid, err)
	}
	return nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if date := r.URL.Query().Get("date"); date != "" {
		events = calendar.EventsOn(events, date)
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:     events,
		DailyLimit: s.svc.DailyLimit(),
		Timezone:   s.svc.Location().String(),
	})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	saved, err := s.svc.Create(r.Context(), model.Event{
		Date:      req.Date,
		Title:     req.Title,
		Message:   req.Message,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConvert stores a manual message and synthesizes it immediately.
// When synthesis fails after the event was saved, the reply still carries
// the pending event next to the error.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	text := req.Text
	if text == "" {
		text = req.Message
	}
	ev, err := s.svc.Quick(r.Context(), alert.QuickRequest{
		Text:      text,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		if ev.ID != "" {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "event": ev})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{Event: ev, URL: ev.AudioURL})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Dispatch(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"synthesized": rep.Synthesized,
		"expired":     rep.Expired,
		"failed":      rep.Failed,
		"waiting":     rep.Waiting,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Import(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"imported": rep.Imported,
		"skipped":  rep.Skipped,
	})
}

type calendarCellDTO struct {
	Date       string        `json:"date"`
	Day        int           `json:"day"`
	Outside    bool          `json:"outside"`
	IsToday    bool          `json:"is_today"`
	IsNewMonth bool          `json:"is_new_month"`
	Month      string        `json:"month,omitempty"`
	Events     []model.Event `json:"events,omitempty"`
}

type calendarResponse struct {
	Year      int                 `json:"year"`
	WeekStart string              `json:"week_start"`
	Headers   []string            `json:"headers"`
	Weeks     [][]calendarCellDTO `json:"weeks"`
}

// handleCalendar returns the year grid with events overlaid.
//
// GET /api/calendar?year=2025&week_start=monday
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	now := s.svc.Now()
	q := r.URL.Query()
	year := parseIntDefault(q.Get("year"), now.Year())
	if year < 1 || year > 9999 {
		writeError(w, http.StatusBadRequest, "year out of range")
		return
	}
	weekStartName := q.Get("week_start")
	if weekStartName == "" {
		weekStartName = s.cfg.WeekStart
	}
	weekStart := calendar.ParseWeekStart(weekStartName)

	events, err := s.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	grid := calendar.GenerateYear(year, weekStart)
	rows := calendar.Overlay(grid, events, now, nil)

	weeks := make([][]calendarCellDTO, 0, len(rows))
	for _, row := range rows {
		week := make([]calendarCellDTO, 0, len(row))
		for _, c := range row {
			week = append(week, calendarCellDTO{
				Date:       c.Key(),
				Day:        c.Day,
				Outside:    c.Outside,
				IsToday:    c.IsToday,
				IsNewMonth: c.IsNewMonth,
				Month:      c.MonthName,
				Events:     c.Events,
			})
		}
		weeks = append(weeks, week)
	}

	writeJSON(w, http.StatusOK, calendarResponse{
		Year:      year,
		WeekStart: weekStart.String(),
		Headers:   grid.Headers(),
		Weeks:     weeks,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := ics.Export(events, s.svc.Location(), time.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.ics"`)
	if _, err := io.WriteString(w, body); err != nil {
		appLog.Error("failed to write ics export", err)
	}
}
