// Package store persists events. The production backend is the hosted
// database reached through its REST interface; Memory serves local runs
// and tests.
package store

import (
	"context"
	"errors"
	"fmt"

	"ttsalert/internal/model"
)

// ErrNotFound is returned when an event id does not exist.
var ErrNotFound = errors.New("event not found")

// Store is the event persistence contract used by the alert service.
type Store interface {
	// List returns all events of the configured user ordered by date and start time.
	List(ctx context.Context) ([]model.Event, error)
	// CountOnDate returns how many events exist on a "YYYY-MM-DD" date.
	CountOnDate(ctx context.Context, date string) (int, error)
	// Insert stores e and returns it with its assigned ID.
	Insert(ctx context.Context, e model.Event) (model.Event, error)
	// Delete removes the event with the given id.
	Delete(ctx context.Context, id string) error
	// MarkProcessed flags an event as synthesized, recording its audio URL.
	MarkProcessed(ctx context.Context, id, audioURL string) error
	// Pending returns the events not yet processed.
	Pending(ctx context.Context) ([]model.Event, error)
}

// APIError is a non-2xx reply from the hosted database.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("database: HTTP %d", e.Status)
	}
	return fmt.Sprintf("database: HTTP %d: %s", e.Status, e.Message)
}
