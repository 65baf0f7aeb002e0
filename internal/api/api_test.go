package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/service"
	"github.com/tazhate/familycal/internal/storage"
)

type captureBroadcaster struct {
	types []domain.MessageType
}

func (c *captureBroadcaster) Broadcast(code string, env domain.Envelope) {
	c.types = append(c.types, env.Type)
}

func newTestServer(t *testing.T) (*Server, *captureBroadcaster) {
	t.Helper()
	st, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := service.NewCalendarService(st, time.UTC)
	b := &captureBroadcaster{}
	svc.SetBroadcaster(b)
	return New(svc, nil), b
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return rec, resp
}

// decodeData re-decodes resp.Data into v.
func decodeData(t *testing.T, resp APIResponse, v interface{}) {
	t.Helper()
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
}

func createCalendar(t *testing.T, s *Server) domain.Calendar {
	t.Helper()
	rec, resp := do(t, s, http.MethodPost, "/api/calendars", map[string]string{"name": "Family"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var c domain.Calendar
	decodeData(t, resp, &c)
	return c
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, resp := do(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Errorf("Expected healthy response, got %d", rec.Code)
	}
}

func TestCalendarLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	c := createCalendar(t, s)

	rec, resp := do(t, s, http.MethodPost, "/api/calendars/join", map[string]string{"share_code": strings.ToLower(c.ShareCode)})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on join, got %d", rec.Code)
	}
	var joined domain.Calendar
	decodeData(t, resp, &joined)
	if joined.ID != c.ID {
		t.Errorf("Expected calendar %d, got %d", c.ID, joined.ID)
	}

	rec, resp = do(t, s, http.MethodPost, "/api/calendars/join", map[string]string{"share_code": "MISSING1"})
	if rec.Code != http.StatusNotFound || resp.Success {
		t.Errorf("Expected 404 for unknown code, got %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodPost, "/api/calendars/join", map[string]string{"share_code": " "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty code, got %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/calendars/"+c.ShareCode, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestEventCRUD(t *testing.T) {
	s, b := newTestServer(t)
	c := createCalendar(t, s)
	base := "/api/calendars/" + c.ShareCode

	rec, resp := do(t, s, http.MethodPost, base+"/events", map[string]interface{}{
		"title":      "Dentist",
		"start_time": "2030-01-02T10:00",
		"end_time":   "2030-01-02T11:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Event
	decodeData(t, resp, &created)
	if created.ReminderMinutes != 15 {
		t.Errorf("Expected default reminder 15, got %d", created.ReminderMinutes)
	}

	rec, resp = do(t, s, http.MethodGet, base+"/events", nil)
	var list []domain.Event
	decodeData(t, resp, &list)
	if rec.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("Expected 1 event, got %d (status %d)", len(list), rec.Code)
	}

	path := "/api/events/" + strconv.FormatInt(created.ID, 10)
	rec, resp = do(t, s, http.MethodPut, path, map[string]interface{}{"title": "Dentist (moved)"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d", rec.Code)
	}
	var updated domain.Event
	decodeData(t, resp, &updated)
	if updated.Title != "Dentist (moved)" || !updated.StartTime.Equal(created.StartTime) {
		t.Errorf("Unexpected update result %+v", updated)
	}

	rec, _ = do(t, s, http.MethodDelete, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", rec.Code)
	}
	rec, _ = do(t, s, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}

	want := []domain.MessageType{domain.MsgEventCreated, domain.MsgEventUpdated, domain.MsgEventDeleted}
	if len(b.types) != len(want) {
		t.Fatalf("Expected broadcasts %v, got %v", want, b.types)
	}
	for i := range want {
		if b.types[i] != want[i] {
			t.Errorf("Broadcast %d: expected %s, got %s", i, want[i], b.types[i])
		}
	}
}

func TestEventValidationErrors(t *testing.T) {
	s, _ := newTestServer(t)
	c := createCalendar(t, s)

	rec, resp := do(t, s, http.MethodPost, "/api/calendars/"+c.ShareCode+"/events", map[string]interface{}{
		"title":      "Backwards",
		"start_time": "2030-01-02T11:00",
		"end_time":   "2030-01-02T10:00",
	})
	if rec.Code != http.StatusBadRequest || resp.Error == "" {
		t.Errorf("Expected 400 with error, got %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/events/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad id, got %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodPost, "/api/calendars/NOPE0000/events", map[string]interface{}{
		"title": "X", "start_time": "2030-01-02T10:00", "end_time": "2030-01-02T11:00",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown calendar, got %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodDelete, "/api/calendars/"+c.ShareCode, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestICSExport(t *testing.T) {
	s, _ := newTestServer(t)
	c := createCalendar(t, s)
	do(t, s, http.MethodPost, "/api/calendars/"+c.ShareCode+"/events", map[string]interface{}{
		"title": "Dentist", "start_time": "2030-01-02T10:00", "end_time": "2030-01-02T11:00",
	})

	rec, _ := do(t, s, http.MethodGet, "/api/calendars/"+c.ShareCode+"/calendar.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Expected text/calendar, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Dentist") {
		t.Error("Expected feed to contain the event")
	}
}

func TestUpcomingIsEmptyList(t *testing.T) {
	s, _ := newTestServer(t)
	c := createCalendar(t, s)

	rec, _ := do(t, s, http.MethodGet, "/api/calendars/"+c.ShareCode+"/upcoming", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("Expected empty list, got %s", rec.Body.String())
	}
}
