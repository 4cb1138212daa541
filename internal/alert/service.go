// Package alert holds the scheduling rules: event validation, the per-day
// limit, immediate synthesis of quick messages, and the background jobs
// that reconcile pending events with the hosted speech functions.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ttsalert/internal/ics"
	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
	"ttsalert/internal/store"
)

var (
	// ErrDailyLimit is returned when a date already holds the maximum number of events.
	ErrDailyLimit = errors.New("daily limit reached")
	// ErrBusy is returned when a job is already running.
	ErrBusy = errors.New("job already running")
)

// Speech is the subset of the hosted function client the service needs.
type Speech interface {
	Convert(ctx context.Context, text string, alertStart, alertEnd int64) (string, error)
	Refresh(ctx context.Context, userID string) error
}

// Options configures a Service.
type Options struct {
	UserID     string
	DailyLimit int
	Location   *time.Location

	// Lookahead is how long before its window an event is synthesized by Dispatch.
	Lookahead time.Duration

	// Sources and Horizon drive Import.
	Sources  []ics.Source
	Horizon  time.Duration
	CacheDir string
}

// Service implements the alert operations on top of a Store and Speech.
type Service struct {
	store  store.Store
	speech Speech
	opts   Options

	fetcher *ics.Fetcher
	now     func() time.Time

	// createMu serializes the count-then-insert of Create so the daily
	// limit holds within this process.
	createMu   sync.Mutex
	dispatchMu sync.Mutex
	importMu   sync.Mutex
}

// NewService creates a Service.
func NewService(st store.Store, sp Speech, opts Options) *Service {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = 3
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 14 * 24 * time.Hour
	}
	return &Service{
		store:   st,
		speech:  sp,
		opts:    opts,
		fetcher: ics.NewFetcher(opts.CacheDir),
		now:     time.Now,
	}
}

// Location returns the zone event dates and times are read in.
func (s *Service) Location() *time.Location { return s.opts.Location }

// Now returns the current time in the service location.
func (s *Service) Now() time.Time { return s.now().In(s.opts.Location) }

// DailyLimit returns the configured per-date cap.
func (s *Service) DailyLimit() int { return s.opts.DailyLimit }

// List returns every stored event.
func (s *Service) List(ctx context.Context) ([]model.Event, error) {
	return s.store.List(ctx)
}

// Create validates e, enforces the daily limit and stores it as pending.
func (s *Service) Create(ctx context.Context, e model.Event) (model.Event, error) {
	e.Title = strings.TrimSpace(e.Title)
	e.Message = strings.TrimSpace(e.Message)
	e.Date = strings.TrimSpace(e.Date)
	if e.Title == "" {
		e.Title = model.ManualTitle
	}
	if e.StartTime == "" {
		e.StartTime = model.DefaultStartTime
	}
	if e.EndTime == "" {
		e.EndTime = model.DefaultEndTime
	}
	if err := e.Validate(); err != nil {
		return model.Event{}, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	n, err := s.store.CountOnDate(ctx, e.Date)
	if err != nil {
		return model.Event{}, fmt.Errorf("count events on %s: %w", e.Date, err)
	}
	if n >= s.opts.DailyLimit {
		return model.Event{}, fmt.Errorf("%w: you can only have %d events per day", ErrDailyLimit, s.opts.DailyLimit)
	}

	e.ID = ""
	e.UserID = s.opts.UserID
	e.Processed = false
	e.AudioURL = ""

	saved, err := s.store.Insert(ctx, e)
	if err != nil {
		return model.Event{}, fmt.Errorf("save event: %w", err)
	}
	appLog.Info("event created", "id", saved.ID, "date", saved.Date, "start", saved.StartTime, "end", saved.EndTime)
	return saved, nil
}

// QuickRequest is a manual message with its window.
type QuickRequest struct {
	Text      string
	Date      string
	StartTime string
	EndTime   string
}

// Quick stores a manual message and synthesizes it right away. When
// synthesis fails the saved event is still returned (pending) along with
// the error, so Dispatch can retry it later.
func (s *Service) Quick(ctx context.Context, req QuickRequest) (model.Event, error) {
	saved, err := s.Create(ctx, model.Event{
		Title:     model.ManualTitle,
		Message:   req.Text,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		return model.Event{}, err
	}

	url, err := s.synthesize(ctx, saved)
	if err != nil {
		return saved, err
	}
	saved.Processed = true
	saved.AudioURL = url
	return saved, nil
}

// Delete removes an event.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrNotFound
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	appLog.Info("event deleted", "id", id)
	return nil
}

// Refresh asks the hosted scheduler function to regenerate audio for the user.
func (s *Service) Refresh(ctx context.Context) error {
	return s.speech.Refresh(ctx, s.opts.UserID)
}

// DispatchReport summarizes one Dispatch run.
type DispatchReport struct {
	Synthesized int
	Expired     int
	Failed      int
	Waiting     int
}

// Dispatch synthesizes pending events whose window opens within the
// lookahead and has not yet ended. Events whose window already ended are
// marked processed without audio. A failure on one event does not stop
// the others.
func (s *Service) Dispatch(ctx context.Context) (DispatchReport, error) {
	var rep DispatchReport
	if !s.dispatchMu.TryLock() {
		return rep, ErrBusy
	}
	defer s.dispatchMu.Unlock()

	pending, err := s.store.Pending(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending events: %w", err)
	}

	now := s.now().Unix()
	lookahead := int64(s.opts.Lookahead / time.Second)

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		w, err := e.Window(s.opts.Location)
		if err != nil {
			appLog.Warn("dispatch: unreadable event", "id", e.ID, "reason", err)
			rep.Failed++
			continue
		}

		switch {
		case w.End <= now:
			if err := s.store.MarkProcessed(ctx, e.ID, ""); err != nil {
				appLog.Error("dispatch: mark expired failed", err, "id", e.ID)
				rep.Failed++
				continue
			}
			appLog.Info("dispatch: window passed, event expired", "id", e.ID, "date", e.Date)
			rep.Expired++
		case w.Start-lookahead <= now:
			if _, err := s.synthesize(ctx, e); err != nil {
				rep.Failed++
				continue
			}
			rep.Synthesized++
		default:
			rep.Waiting++
		}
	}

	if rep.Synthesized+rep.Expired+rep.Failed > 0 {
		appLog.Info("dispatch finished",
			"synthesized", rep.Synthesized,
			"expired", rep.Expired,
			"failed", rep.Failed,
			"waiting", rep.Waiting,
		)
	}
	return rep, nil
}

func (s *Service) synthesize(ctx context.Context, e model.Event) (string, error) {
	w, err := e.Window(s.opts.Location)
	if err != nil {
		return "", err
	}
	url, err := s.speech.Convert(ctx, e.Message, w.Start, w.End)
	if err != nil {
		appLog.Error("speech synthesis failed", err, "id", e.ID)
		return "", fmt.Errorf("synthesize: %w", err)
	}
	if err := s.store.MarkProcessed(ctx, e.ID, url); err != nil {
		appLog.Error("mark processed failed", err, "id", e.ID)
		return url, fmt.Errorf("mark processed: %w", err)
	}
	return url, nil
}
