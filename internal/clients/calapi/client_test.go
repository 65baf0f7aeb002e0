package calapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tazhate/familycal/internal/api"
	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/service"
	"github.com/tazhate/familycal/internal/storage"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	st, err := storage.New(filepath.Join(t.TempDir(), "calapi.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(api.New(service.NewCalendarService(st, time.UTC), nil))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func strPtr(s string) *string { return &s }

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	cal, err := c.CreateCalendar(ctx, "Family")
	if err != nil {
		t.Fatalf("CreateCalendar failed: %v", err)
	}

	joined, err := c.Join(ctx, cal.ShareCode)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined.ID != cal.ID {
		t.Errorf("Expected calendar %d, got %d", cal.ID, joined.ID)
	}

	e, err := c.CreateEvent(ctx, cal.ShareCode, EventRequest{
		Title:     strPtr("Dentist"),
		StartTime: strPtr("2030-01-02T10:00:00Z"),
		EndTime:   strPtr("2030-01-02T11:00:00Z"),
	})
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if e.ID == 0 || e.ReminderMinutes != domain.DefaultReminderMinutes {
		t.Errorf("Unexpected event %+v", e)
	}

	events, err := c.ListEvents(ctx, cal.ShareCode, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	minutes := 45
	updated, err := c.UpdateEvent(ctx, e.ID, EventRequest{ReminderMinutes: &minutes})
	if err != nil {
		t.Fatalf("UpdateEvent failed: %v", err)
	}
	if updated.ReminderMinutes != 45 || updated.Title != "Dentist" {
		t.Errorf("Unexpected update result %+v", updated)
	}

	if err := c.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	if err := c.DeleteEvent(ctx, e.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUnknownShareCode(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetCalendar(context.Background(), "nope0000")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 StatusError, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Error("Expected error to match domain.ErrNotFound")
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Upcoming(context.Background(), "FAMILY01")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502 StatusError, got %v", err)
	}
}
