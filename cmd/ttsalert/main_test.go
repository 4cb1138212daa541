package main

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsalert/internal/alert"
	"ttsalert/internal/config"
	"ttsalert/internal/ics"
	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
	"ttsalert/internal/speech"
	"ttsalert/internal/store"
)

func TestSourcesFallbackIDs(t *testing.T) {
	got := sources([]config.ICSConfig{
		{URL: "https://a.example.com/cal.ics", ID: "work"},
		{URL: "https://b.example.com/cal.ics", Name: "Family"},
		{URL: "https://c.example.com/cal.ics"},
		{Name: "no url"},
	})
	assert.Equal(t, []ics.Source{
		{ID: "work", URL: "https://a.example.com/cal.ics"},
		{ID: "Family", URL: "https://b.example.com/cal.ics"},
		{ID: "ics-2", URL: "https://c.example.com/cal.ics"},
	}, got)
}

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", dialAddr(":8080"))
	assert.Equal(t, "127.0.0.1:8080", dialAddr("0.0.0.0:8080"))
	assert.Equal(t, "192.168.1.5:9000", dialAddr("192.168.1.5:9000"))
	assert.Equal(t, "localhost", dialAddr("localhost"))
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	conf := config.DefaultConfig()
	st, err := newStore(conf)
	assert.NoError(t, err)
	assert.NotNil(t, st)
}

func TestDispatchJobIsQuietWhenNothingIsDue(t *testing.T) {
	conf := config.DefaultConfig()
	svc := alert.NewService(store.NewMemory(conf.UserID), speech.NewClient("", "", time.Second), alert.Options{
		UserID:   conf.UserID,
		Location: time.UTC,
		CacheDir: t.TempDir(),
	})
	ctx := context.Background()
	_, err := svc.Create(ctx, model.Event{Date: "2099-01-01", Message: "far away"})
	require.NoError(t, err)

	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	appLog.SetLevel(appLog.LevelDebug)
	t.Cleanup(func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	})

	jobs := scheduledJobs(conf, svc)
	require.Equal(t, "dispatch", jobs[0].name)
	assert.Equal(t, conf.Scheduler.Dispatch, jobs[0].spec)
	require.NoError(t, jobs[0].fn(ctx))
	require.NoError(t, jobs[0].fn(ctx))
	assert.NotContains(t, buf.String(), "dispatch finished")
}
