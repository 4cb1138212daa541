package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
)

// PostgREST talks to a hosted Supabase project through its REST endpoint
// (<base>/rest/v1/<table>). Every request carries the project API key in
// both the apikey and Authorization headers.
type PostgREST struct {
	client  *http.Client
	baseURL string
	apiKey  string
	table   string
	userID  string
}

// PostgRESTOptions configures NewPostgREST.
type PostgRESTOptions struct {
	BaseURL string
	APIKey  string
	Table   string
	UserID  string
	Timeout time.Duration
}

// NewPostgREST creates a hosted database client.
func NewPostgREST(opts PostgRESTOptions) (*PostgREST, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("database URL is empty")
	}
	if opts.Table == "" {
		opts.Table = "events"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &PostgREST{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		table:   opts.Table,
		userID:  opts.UserID,
	}, nil
}

// row is the wire shape of an events row. Times may come back as
// "HH:MM:SS" when the column is a SQL time.
type row struct {
	ID        json.RawMessage `json:"id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Date      string          `json:"date"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	StartTime string          `json:"start_time"`
	EndTime   string          `json:"end_time"`
	Processed bool            `json:"processed"`
	AudioURL  *string         `json:"audio_url,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

func (r row) toEvent() model.Event {
	e := model.Event{
		ID:        rawID(r.ID),
		UserID:    r.UserID,
		Date:      r.Date,
		Title:     r.Title,
		Message:   r.Message,
		StartTime: trimSeconds(r.StartTime),
		EndTime:   trimSeconds(r.EndTime),
		Processed: r.Processed,
		CreatedAt: r.CreatedAt,
	}
	if r.AudioURL != nil {
		e.AudioURL = *r.AudioURL
	}
	return e
}

// rawID accepts both numeric and uuid primary keys.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func trimSeconds(v string) string {
	if len(v) == len("15:04:05") && strings.Count(v, ":") == 2 {
		return v[:5]
	}
	return v
}

func (p *PostgREST) List(ctx context.Context) ([]model.Event, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "date.asc,start_time.asc")
	p.scopeUser(q)

	var rows []row
	if _, err := p.do(ctx, http.MethodGet, q, nil, nil, &rows); err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

func (p *PostgREST) Pending(ctx context.Context) ([]model.Event, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("processed", "eq.false")
	q.Set("order", "date.asc,start_time.asc")
	p.scopeUser(q)

	var rows []row
	if _, err := p.do(ctx, http.MethodGet, q, nil, nil, &rows); err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

func (p *PostgREST) CountOnDate(ctx context.Context, date string) (int, error) {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("date", "eq."+date)
	p.scopeUser(q)

	hdr := http.Header{}
	hdr.Set("Prefer", "count=exact")
	resp, err := p.do(ctx, http.MethodHead, q, hdr, nil, nil)
	if err != nil {
		return 0, err
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

func (p *PostgREST) Insert(ctx context.Context, e model.Event) (model.Event, error) {
	if e.UserID == "" {
		e.UserID = p.userID
	}
	payload := []row{{
		UserID:    e.UserID,
		Date:      e.Date,
		Title:     e.Title,
		Message:   e.Message,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Processed: e.Processed,
	}}
	if e.AudioURL != "" {
		payload[0].AudioURL = &e.AudioURL
	}

	hdr := http.Header{}
	hdr.Set("Prefer", "return=representation")

	var rows []row
	if _, err := p.do(ctx, http.MethodPost, url.Values{"select": {"*"}}, hdr, payload, &rows); err != nil {
		return model.Event{}, err
	}
	if len(rows) == 0 {
		return model.Event{}, errors.New("database: insert returned no rows")
	}
	return rows[0].toEvent(), nil
}

func (p *PostgREST) Delete(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	hdr := http.Header{}
	hdr.Set("Prefer", "return=representation")

	var rows []row
	if _, err := p.do(ctx, http.MethodDelete, q, hdr, nil, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgREST) MarkProcessed(ctx context.Context, id, audioURL string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	hdr := http.Header{}
	hdr.Set("Prefer", "return=representation")

	patch := map[string]any{"processed": true}
	if audioURL != "" {
		patch["audio_url"] = audioURL
	}

	var rows []row
	if _, err := p.do(ctx, http.MethodPatch, q, hdr, patch, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgREST) scopeUser(q url.Values) {
	if p.userID != "" {
		q.Set("user_id", "eq."+p.userID)
	}
}

// do performs one REST call. When out is non-nil the response body is
// decoded into it. The response is returned with its body closed.
func (p *PostgREST) do(ctx context.Context, method string, q url.Values, hdr http.Header, body, out any) (*http.Response, error) {
	endpoint := p.baseURL + "/rest/v1/" + url.PathEscape(p.table)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLog.Debug("database request", "method", method, "table", p.table)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, decodeAPIError(resp)
	}

	if out != nil && method != http.MethodHead {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("database: decode response: %w", err)
		}
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Message string `json:"message"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// parseContentRangeTotal reads the total from "0-2/3" or "*/0".
func parseContentRangeTotal(v string) (int, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i == len(v)-1 {
		return 0, fmt.Errorf("database: malformed Content-Range %q", v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("database: Content-Range %q has no exact count", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("database: malformed Content-Range %q", v)
	}
	return n, nil
}

func toEvents(rows []row) []model.Event {
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out
}
