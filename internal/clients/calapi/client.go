package calapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/familycal/internal/domain"
)

// Client is the HTTP client for the calendar server API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new calendar API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsConfigured returns true if the client has a server URL
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiResponse mirrors the server's response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// Unwrap lets callers match 404s with errors.Is(err, domain.ErrNotFound).
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrInvalid
	}
	return nil
}

// doRequest performs an HTTP request and decodes the envelope's data into out
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env apiResponse
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &StatusError{Code: resp.StatusCode, Message: string(respBody)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// CreateCalendar creates a calendar and returns it with its share code
func (c *Client) CreateCalendar(ctx context.Context, name string) (*domain.Calendar, error) {
	var cal domain.Calendar
	if err := c.doRequest(ctx, http.MethodPost, "/api/calendars", map[string]string{"name": name}, &cal); err != nil {
		return nil, err
	}
	return &cal, nil
}

// GetCalendar returns the calendar behind a share code
func (c *Client) GetCalendar(ctx context.Context, shareCode string) (*domain.Calendar, error) {
	var cal domain.Calendar
	if err := c.doRequest(ctx, http.MethodGet, "/api/calendars/"+url.PathEscape(domain.NormalizeShareCode(shareCode)), nil, &cal); err != nil {
		return nil, err
	}
	return &cal, nil
}

// Join resolves a share code typed by the user
func (c *Client) Join(ctx context.Context, shareCode string) (*domain.Calendar, error) {
	var cal domain.Calendar
	if err := c.doRequest(ctx, http.MethodPost, "/api/calendars/join", map[string]string{"share_code": shareCode}, &cal); err != nil {
		return nil, err
	}
	return &cal, nil
}

// ListEvents returns the calendar's events. Zero bounds are omitted.
func (c *Client) ListEvents(ctx context.Context, shareCode string, from, to time.Time) ([]domain.Event, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.Format(time.RFC3339))
	}
	path := "/api/calendars/" + url.PathEscape(domain.NormalizeShareCode(shareCode)) + "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var events []domain.Event
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Upcoming returns events starting within the next day
func (c *Client) Upcoming(ctx context.Context, shareCode string) ([]domain.Event, error) {
	var events []domain.Event
	path := "/api/calendars/" + url.PathEscape(domain.NormalizeShareCode(shareCode)) + "/upcoming"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// EventRequest is the body of create and update calls. Nil fields are
// omitted so updates only touch what is set.
type EventRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	StartTime       *string `json:"start_time,omitempty"`
	EndTime         *string `json:"end_time,omitempty"`
	AllDay          *bool   `json:"all_day,omitempty"`
	ReminderMinutes *int    `json:"reminder_minutes,omitempty"`
}

// CreateEvent creates an event in the calendar
func (c *Client) CreateEvent(ctx context.Context, shareCode string, req EventRequest) (*domain.Event, error) {
	var e domain.Event
	path := "/api/calendars/" + url.PathEscape(domain.NormalizeShareCode(shareCode)) + "/events"
	if err := c.doRequest(ctx, http.MethodPost, path, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEvent patches an event
func (c *Client) UpdateEvent(ctx context.Context, id int64, req EventRequest) (*domain.Event, error) {
	var e domain.Event
	if err := c.doRequest(ctx, http.MethodPut, "/api/events/"+strconv.FormatInt(id, 10), req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteEvent deletes an event
func (c *Client) DeleteEvent(ctx context.Context, id int64) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/events/"+strconv.FormatInt(id, 10), nil, nil)
}
