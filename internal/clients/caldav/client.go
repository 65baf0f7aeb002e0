package caldav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/ics"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"
)

// Client mirrors calendar events to a CalDAV collection.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	loc          *time.Location

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password, calendarPath string, loc *time.Location) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
		loc:          loc,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

func (c *Client) CalendarPath() string {
	return c.calendarPath
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
			Description: cal.Description,
		})
	}

	return result, nil
}

// PutEvent creates or replaces the event's object. PUT replaces, so the same
// call serves creates and updates.
func (c *Client) PutEvent(ctx context.Context, e domain.Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	path, err := c.objectPath(e.ID)
	if err != nil {
		return err
	}

	cal := ics.EventCalendar(e, c.loc, time.Now())
	if _, err := client.PutCalendarObject(ctx, path, cal); err != nil {
		return fmt.Errorf("put event %d: %w", e.ID, err)
	}
	return nil
}

// DeleteEvent removes the event's object.
func (c *Client) DeleteEvent(ctx context.Context, eventID int64) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	path, err := c.objectPath(eventID)
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, path); err != nil {
		return fmt.Errorf("delete event %d: %w", eventID, err)
	}
	return nil
}

func (c *Client) objectPath(eventID int64) (string, error) {
	if c.calendarPath == "" {
		return "", fmt.Errorf("calendar path not specified")
	}
	path := c.calendarPath
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path + ics.UID(eventID) + ".ics", nil
}
