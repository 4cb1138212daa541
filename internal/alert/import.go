package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ttsalert/internal/ics"
	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
)

// ImportReport summarizes one Import run.
type ImportReport struct {
	Imported int
	Skipped  int
}

// Import turns upcoming timed occurrences from the configured ICS
// subscriptions into pending events. Occurrences already stored (same
// date, start time and title), all-day occurrences and those rejected by
// the daily limit are skipped. Fetch failures of individual sources are
// logged; the remaining sources are still imported.
func (s *Service) Import(ctx context.Context) (ImportReport, error) {
	var rep ImportReport
	if len(s.opts.Sources) == 0 {
		return rep, nil
	}
	if !s.importMu.TryLock() {
		return rep, ErrBusy
	}
	defer s.importMu.Unlock()

	results, fetchErr := s.fetcher.FetchAll(ctx, s.opts.Sources)
	if len(results) == 0 && fetchErr != nil {
		return rep, fmt.Errorf("fetch subscriptions: %w", fetchErr)
	}

	var parsed []ics.ParsedEvent
	for _, res := range results {
		evs, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("import: parse failed", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, evs...)
	}

	now := s.Now()
	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: s.opts.Location,
		RangeStart:      now,
		RangeEnd:        now.Add(s.opts.Horizon),
	})
	if err != nil {
		return rep, err
	}

	existing, err := s.store.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list events: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[dedupKey(e)] = true
	}

	for _, occ := range expanded.Occurrences {
		if occ.AllDay {
			rep.Skipped++
			continue
		}
		e := eventFromOccurrence(occ)
		if seen[dedupKey(e)] {
			rep.Skipped++
			continue
		}
		if _, err := s.Create(ctx, e); err != nil {
			if errors.Is(err, ErrDailyLimit) || errors.Is(err, model.ErrInvalid) {
				appLog.Warn("import: occurrence skipped", "uid", occ.UID, "date", e.Date, "reason", err)
				rep.Skipped++
				continue
			}
			return rep, err
		}
		seen[dedupKey(e)] = true
		rep.Imported++
	}

	appLog.Info("import finished", "imported", rep.Imported, "skipped", rep.Skipped, "sources", len(results))
	return rep, nil
}

func eventFromOccurrence(occ model.Occurrence) model.Event {
	title := strings.TrimSpace(occ.Summary)
	if title == "" {
		title = "Calendar Alert"
	}
	message := strings.TrimSpace(occ.Description)
	if message == "" {
		message = title
	}

	end := model.FormatClock(occ.End)
	// Windows are single-day; clip events that run past midnight.
	if model.FormatDate(occ.End) != model.FormatDate(occ.Start) {
		end = "23:59"
	}
	return model.Event{
		Date:      model.FormatDate(occ.Start),
		Title:     title,
		Message:   message,
		StartTime: model.FormatClock(occ.Start),
		EndTime:   end,
	}
}

func dedupKey(e model.Event) string {
	return e.Date + "|" + e.StartTime + "|" + e.Title
}
