package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsalert/internal/alert"
	"ttsalert/internal/config"
	"ttsalert/internal/model"
	"ttsalert/internal/speech"
	"ttsalert/internal/store"
)

type fixture struct {
	srv   *httptest.Server
	store *store.Memory
}

// newFixture starts the web server backed by a Memory store and a fake
// speech backend whose convert reply is convertBody.
func newFixture(t *testing.T, convertBody string, mutate func(*config.Config)) *fixture {
	t.Helper()

	backend := http.NewServeMux()
	backend.HandleFunc("POST /convert", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, convertBody)
	})
	backend.HandleFunc("POST /scheduler", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	speechSrv := httptest.NewServer(backend)
	t.Cleanup(speechSrv.Close)

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewMemory(cfg.UserID)
	sp := speech.NewClient(speechSrv.URL+"/convert", speechSrv.URL+"/scheduler", 5*time.Second)
	svc := alert.NewService(st, sp, alert.Options{
		UserID:     cfg.UserID,
		DailyLimit: cfg.DailyLimit,
		Location:   time.UTC,
		CacheDir:   t.TempDir(),
	})

	s, err := NewServer(cfg, svc, false)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st}
}

func (f *fixture) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, `{}`, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, f.srv.URL+"/api/events", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsAPI(t *testing.T) {
	f := newFixture(t, `{}`, nil)

	resp := f.postJSON(t, "/api/events", `{"date":"2030-03-14","title":"Wake up","message":"Good morning","start_time":"07:00","end_time":"07:30"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Wake up", created.Title)
	assert.False(t, created.Processed)

	resp, err := http.Get(f.srv.URL + "/api/events?date=2030-03-14")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list eventsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Events, 1)
	assert.Equal(t, created.ID, list.Events[0].ID)
	assert.Equal(t, 3, list.DailyLimit)
	assert.Equal(t, "UTC", list.Timezone)

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/events/"+created.ID, nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	del, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
}

func TestCreateRejections(t *testing.T) {
	f := newFixture(t, `{}`, nil)

	for i := 0; i < 3; i++ {
		resp := f.postJSON(t, "/api/events", `{"date":"2030-03-14","message":"m","start_time":"07:00","end_time":"07:30"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := f.postJSON(t, "/api/events", `{"date":"2030-03-14","message":"m","start_time":"08:00","end_time":"08:30"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "3 events per day")

	resp = f.postJSON(t, "/api/events", `{"date":"2030-03-15","message":"m","start_time":"09:00","end_time":"08:00"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.postJSON(t, "/api/events", `{"date":"2030-03-15","message":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.postJSON(t, "/api/events", `{"date":"2030-03-15","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertAPI(t *testing.T) {
	f := newFixture(t, `{"url":"https://cdn.example.com/a.mp3"}`, nil)

	resp := f.postJSON(t, "/api/convert", `{"text":"Take a break","date":"2030-03-14","start_time":"10:00","end_time":"10:15"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out convertResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "https://cdn.example.com/a.mp3", out.URL)
	assert.True(t, out.Event.Processed)
	assert.Equal(t, model.ManualTitle, out.Event.Title)
}

func TestConvertAPIRemoteError(t *testing.T) {
	f := newFixture(t, `{"error":"quota exceeded"}`, nil)

	resp := f.postJSON(t, "/api/convert", `{"text":"Take a break","date":"2030-03-14","start_time":"10:00","end_time":"10:15"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var out struct {
		Error string      `json:"error"`
		Event model.Event `json:"event"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Error, "quota exceeded")
	assert.NotEmpty(t, out.Event.ID)
}

func TestRefreshAPIFailure(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp := f.postJSON(t, "/api/refresh", ``)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "HTTP 500")
}

func TestCalendarAPI(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp := f.postJSON(t, "/api/events", `{"date":"2025-01-01","message":"new year"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	get, err := http.Get(f.srv.URL + "/api/calendar?year=2025")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	var cal calendarResponse
	require.NoError(t, json.NewDecoder(get.Body).Decode(&cal))
	assert.Equal(t, 2025, cal.Year)
	assert.Equal(t, "Sunday", cal.WeekStart)
	require.Len(t, cal.Headers, 7)
	require.NotEmpty(t, cal.Weeks)

	first := cal.Weeks[0]
	require.Len(t, first, 7)
	assert.Equal(t, "2024-12-29", first[0].Date)
	assert.True(t, first[0].Outside)
	assert.Equal(t, "2025-01-01", first[3].Date)
	assert.False(t, first[3].Outside)
	assert.True(t, first[3].IsNewMonth)
	require.Len(t, first[3].Events, 1)
	assert.Equal(t, "new year", first[3].Events[0].Message)

	bad, err := http.Get(f.srv.URL + "/api/calendar?year=0")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestExport(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp := f.postJSON(t, "/api/events", `{"date":"2030-03-14","title":"Wake up","message":"Good morning","start_time":"07:00","end_time":"07:30"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	get, err := http.Get(f.srv.URL + "/calendar.ics")
	require.NoError(t, err)
	defer get.Body.Close()
	body, _ := io.ReadAll(get.Body)
	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Contains(t, get.Header.Get("Content-Type"), "text/calendar")
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
	assert.Contains(t, string(body), "SUMMARY:Wake up")
	assert.Contains(t, string(body), "BEGIN:VALARM")
}

func TestIndexRendersGrid(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp := f.postJSON(t, "/api/events", `{"date":"2030-03-14","title":"Dentist","message":"Leave now"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	get, err := http.Get(f.srv.URL + "/?year=2030&date=2030-03-14&msg=hello")
	require.NoError(t, err)
	defer get.Body.Close()
	body, _ := io.ReadAll(get.Body)
	html := string(body)

	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Contains(t, html, `data-ready="true"`)
	assert.Contains(t, html, `id="d-2030-03-14"`)
	assert.Contains(t, html, `id="d-2030-12-31"`)
	assert.Contains(t, html, "Dentist")
	assert.Contains(t, html, "Thursday")
	assert.Contains(t, html, "hello")
	assert.Contains(t, html, `action="/events"`)
}

func TestIndexPadCellSelectsItsRealDate(t *testing.T) {
	f := newFixture(t, `{}`, nil)

	// 2025 starts on a Wednesday, so the first row opens with Dec 29-31, 2024.
	get, err := http.Get(f.srv.URL + "/?year=2025")
	require.NoError(t, err)
	body, _ := io.ReadAll(get.Body)
	get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	assert.Contains(t, string(body), `id="d-2024-12-29" href="/?year=2025&amp;date=2024-12-29#d-2024-12-29"`)
	assert.Regexp(t, `id="d-2024-12-29"[^>]*class="day outside"`, string(body))

	get, err = http.Get(f.srv.URL + "/?year=2025&date=2024-12-29#d-2024-12-29")
	require.NoError(t, err)
	body, _ = io.ReadAll(get.Body)
	get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	html := string(body)

	assert.Regexp(t, `id="d-2024-12-29"[^>]*class="day outside selected"`, html)
	assert.Contains(t, html, "December 29, 2024")
	assert.Contains(t, html, `name="date" value="2024-12-29"`)
}

func TestStaticAssets(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp, err := http.Get(f.srv.URL + "/static/app.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFormCreateRedirects(t *testing.T) {
	f := newFixture(t, `{}`, nil)

	form := url.Values{
		"date":       {"2030-03-14"},
		"title":      {"Stretch"},
		"message":    {"Time to stretch"},
		"start_time": {"15:00"},
		"end_time":   {"15:10"},
	}
	resp, err := noRedirect().PostForm(f.srv.URL+"/events", form)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasSuffix(loc, "#d-2030-03-14"), loc)
	assert.Contains(t, loc, "year=2030")
	assert.Contains(t, loc, "msg=Event+saved")

	events, err := f.store.List(t.Context())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Stretch", events[0].Title)

	resp, err = noRedirect().PostForm(f.srv.URL+"/events/"+events[0].ID+"/delete", url.Values{"date": {"2030-03-14"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "msg=Event+deleted")

	events, err = f.store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFormCreateErrorRedirects(t *testing.T) {
	f := newFixture(t, `{}`, nil)
	resp, err := noRedirect().PostForm(f.srv.URL+"/events", url.Values{"date": {"2030-03-14"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "err=Error+saving+event")
}
