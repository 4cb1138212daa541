package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsalert/internal/model"
)

func newTestPostgREST(t *testing.T, h http.HandlerFunc) *PostgREST {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := NewPostgREST(PostgRESTOptions{
		BaseURL: srv.URL + "/",
		APIKey:  "anon-key",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	return p
}

func TestPostgRESTList(t *testing.T) {
	p := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/events", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "date.asc,start_time.asc", r.URL.Query().Get("order"))

		_, _ = io.WriteString(w, `[
			{"id": 7, "date": "2025-01-01", "title": "t", "message": "m",
			 "start_time": "09:00:00", "end_time": "10:00:00", "processed": false, "audio_url": null},
			{"id": "b7c1", "date": "2025-01-02", "title": "u", "message": "n",
			 "start_time": "11:30", "end_time": "12:00", "processed": true, "audio_url": "https://a/x.mp3"}
		]`)
	})

	events, err := p.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "7", events[0].ID)
	assert.Equal(t, "09:00", events[0].StartTime)
	assert.Equal(t, "10:00", events[0].EndTime)
	assert.Equal(t, "b7c1", events[1].ID)
	assert.Equal(t, "https://a/x.mp3", events[1].AudioURL)
	assert.True(t, events[1].Processed)
}

func TestPostgRESTCountOnDate(t *testing.T) {
	p := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		assert.Equal(t, "eq.2025-01-01", r.URL.Query().Get("date"))
		w.Header().Set("Content-Range", "0-1/2")
		w.WriteHeader(http.StatusOK)
	})

	n, err := p.CountOnDate(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgRESTInsert(t *testing.T) {
	p := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body []map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if !assert.Len(t, body, 1) {
			return
		}
		assert.Equal(t, "user-1", body[0]["user_id"])
		assert.Equal(t, false, body[0]["processed"])
		assert.NotContains(t, body[0], "id")

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id": 42, "user_id": "user-1", "date": "2025-01-01", "title": "t",
			"message": "hello", "start_time": "09:00", "end_time": "10:00", "processed": false}]`)
	})

	got, err := p.Insert(context.Background(), model.Event{
		Date: "2025-01-01", Title: "t", Message: "hello", StartTime: "09:00", EndTime: "10:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, "hello", got.Message)
}

func TestPostgRESTDeleteNotFound(t *testing.T) {
	p := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.99", r.URL.Query().Get("id"))
		_, _ = io.WriteString(w, `[]`)
	})

	assert.ErrorIs(t, p.Delete(context.Background(), "99"), ErrNotFound)
}

func TestPostgRESTMarkProcessed(t *testing.T) {
	p := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["processed"])
		assert.Equal(t, "https://a/x.mp3", body["audio_url"])
		_, _ = io.WriteString(w, `[{"id": 1, "date": "2025-01-01", "processed": true}]`)
	})

	require.NoError(t, p.MarkProcessed(context.Background(), "1", "https://a/x.mp3"))
}

func TestPostgRESTAPIError(t *testing.T) {
	p := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message": "JWT expired", "code": "PGRST301"}`)
	})

	_, err := p.List(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "JWT expired", apiErr.Message)
}

func TestParseContentRangeTotal(t *testing.T) {
	n, err := parseContentRangeTotal("*/0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = parseContentRangeTotal("0-24/3573")
	require.NoError(t, err)
	assert.Equal(t, 3573, n)

	_, err = parseContentRangeTotal("0-24/*")
	assert.Error(t, err)
	_, err = parseContentRangeTotal("")
	assert.Error(t, err)
}

func TestNewPostgRESTRequiresURL(t *testing.T) {
	_, err := NewPostgREST(PostgRESTOptions{})
	assert.Error(t, err)
}
