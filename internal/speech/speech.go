// Package speech calls the hosted text-to-speech functions: "convert"
// synthesizes one message and "scheduler" regenerates audio for every
// pending event of a user.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "ttsalert/internal/log"
)

var (
	// ErrInvalidWindow is returned before any network call when the alert
	// window is empty or inverted.
	ErrInvalidWindow = errors.New("end time must be after start time")
	// ErrUnknownResponse means the function replied with neither a url nor an error.
	ErrUnknownResponse = errors.New("unknown error from server")
	// ErrNotConfigured means the corresponding endpoint URL is empty.
	ErrNotConfigured = errors.New("speech endpoint not configured")
)

// RemoteError carries the "error" field returned by the convert function.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "speech: " + e.Message }

// RefreshError is a non-2xx reply from the scheduler function.
type RefreshError struct {
	Status int
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh failed: server error (HTTP %d)", e.Status)
}

// Client talks to both hosted functions over one http.Client.
type Client struct {
	http         *http.Client
	convertURL   string
	schedulerURL string
}

// NewClient builds a Client. Either URL may be empty; the matching call
// then returns ErrNotConfigured.
func NewClient(convertURL, schedulerURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		convertURL:   convertURL,
		schedulerURL: schedulerURL,
	}
}

type convertRequest struct {
	Text       string `json:"text"`
	AlertStart int64  `json:"alertStart"`
	AlertEnd   int64  `json:"alertEnd"`
}

type convertResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Convert synthesizes text for the alert window [alertStart, alertEnd]
// (Unix seconds) and returns the URL of the playable audio.
func (c *Client) Convert(ctx context.Context, text string, alertStart, alertEnd int64) (string, error) {
	if alertEnd <= alertStart {
		return "", ErrInvalidWindow
	}
	if c.convertURL == "" {
		return "", ErrNotConfigured
	}

	resp, err := c.post(ctx, c.convertURL, convertRequest{
		Text:       text,
		AlertStart: alertStart,
		AlertEnd:   alertEnd,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// The function reports failures in the body, sometimes with a 2xx status,
	// so the body decides the outcome.
	var out convertResponse
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("speech: read response: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		appLog.Error("speech convert: undecodable reply", err, "status", resp.StatusCode)
		return "", ErrUnknownResponse
	}

	switch {
	case out.URL != "":
		appLog.Info("speech convert done", "alert_start", alertStart, "alert_end", alertEnd)
		return out.URL, nil
	case out.Error != "":
		return "", &RemoteError{Message: out.Error}
	default:
		return "", ErrUnknownResponse
	}
}

// Refresh asks the scheduler function to regenerate audio for userID.
func (c *Client) Refresh(ctx context.Context, userID string) error {
	if c.schedulerURL == "" {
		return ErrNotConfigured
	}
	resp, err := c.post(ctx, c.schedulerURL, map[string]string{"user_id": userID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RefreshError{Status: resp.StatusCode}
	}
	appLog.Info("speech scheduler refreshed", "user_id", userID)
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: failed to connect to the server: %w", err)
	}
	return resp, nil
}
