package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
	"github.com/tazhate/familycal/internal/service"
)

// API Response envelope
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Server struct {
	calendar *service.CalendarService
	rooms    http.Handler
	mux      *http.ServeMux
}

// New builds the HTTP API. rooms serves the websocket endpoint and may be nil.
func New(calendar *service.CalendarService, rooms http.Handler) *Server {
	s := &Server{
		calendar: calendar,
		rooms:    rooms,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.health)

	// Calendars
	s.mux.HandleFunc("/api/calendars", s.apiCalendars)
	s.mux.HandleFunc("/api/calendars/join", s.apiJoin)
	s.mux.HandleFunc("/api/calendars/", s.apiCalendar)

	// Events
	s.mux.HandleFunc("/api/events/", s.apiEvent)

	// Rooms
	if s.rooms != nil {
		s.mux.Handle("/ws", s.rooms)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// serviceError maps service errors onto status codes.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalid):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
		s.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// POST /api/calendars - create calendar
func (s *Server) apiCalendars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	c, err := s.calendar.CreateCalendar(req.Name)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonStatus(w, http.StatusCreated, c)
}

// POST /api/calendars/join - resolve a share code
func (s *Server) apiJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ShareCode string `json:"share_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ShareCode) == "" {
		s.jsonError(w, "Share code is required", http.StatusBadRequest)
		return
	}

	c, err := s.calendar.Join(req.ShareCode)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, c)
}

// GET  /api/calendars/{code}
// GET  /api/calendars/{code}/events?from=&to=
// POST /api/calendars/{code}/events
// GET  /api/calendars/{code}/upcoming
// GET  /api/calendars/{code}/calendar.ics
func (s *Server) apiCalendar(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/calendars/"), "/")
	parts := strings.Split(rest, "/")
	code := parts[0]
	if code == "" || len(parts) > 2 {
		s.jsonError(w, "Not found", http.StatusNotFound)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c, err := s.calendar.GetByShareCode(code)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, c)

	case "events":
		s.apiCalendarEvents(w, r, code)

	case "upcoming":
		if r.Method != http.MethodGet {
			s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		events, err := s.calendar.Upcoming(code)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, eventsToResponse(events))

	case "calendar.ics":
		if r.Method != http.MethodGet {
			s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, c, err := s.calendar.ExportICS(code)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+c.ShareCode+`.ics"`)
		w.Write(data)

	default:
		s.jsonError(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) apiCalendarEvents(w http.ResponseWriter, r *http.Request, code string) {
	switch r.Method {
	case http.MethodGet:
		from, err := s.queryTime(r, "from")
		if err != nil {
			s.jsonError(w, "Invalid from", http.StatusBadRequest)
			return
		}
		to, err := s.queryTime(r, "to")
		if err != nil {
			s.jsonError(w, "Invalid to", http.StatusBadRequest)
			return
		}

		events, err := s.calendar.ListEvents(code, from, to)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, eventsToResponse(events))

	case http.MethodPost:
		var req service.EventInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		e, err := s.calendar.CreateEvent(r.Context(), code, req)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonStatus(w, http.StatusCreated, e)

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET    /api/events/{id}
// PUT    /api/events/{id}
// DELETE /api/events/{id}
func (s *Server) apiEvent(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/events/"), "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.jsonError(w, "Invalid event ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		e, err := s.calendar.GetEvent(id)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, e)

	case http.MethodPut, http.MethodPatch:
		var req service.EventInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		e, err := s.calendar.UpdateEvent(r.Context(), id, req)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, e)

	case http.MethodDelete:
		if err := s.calendar.DeleteEvent(r.Context(), id); err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, map[string]int64{"event_id": id})

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return service.ParseTime(v, s.calendar.Location())
}

func eventsToResponse(events []*domain.Event) []*domain.Event {
	if events == nil {
		return []*domain.Event{}
	}
	return events
}
