package agent

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tazhate/familycal/internal/api"
	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/notify"
	"github.com/tazhate/familycal/internal/reminder"
)

// StatusServer exposes the agent's local state over HTTP.
type StatusServer struct {
	session   *Session
	scheduler *reminder.Scheduler
	banners   *notify.BannerBoard
	sink      *notify.Sink
	mux       *http.ServeMux
}

type statusResponse struct {
	Calendar  *domain.Calendar `json:"calendar,omitempty"`
	Connected bool             `json:"connected"`
	JoinedAt  *time.Time       `json:"joined_at,omitempty"`
	Events    int              `json:"events"`
	Reminders reminder.Status  `json:"reminders"`
	Channels  []string         `json:"channels"`
}

type eventResponse struct {
	domain.Event
	Time     string `json:"time"`
	Reminder string `json:"reminder"`
}

// NewStatusServer wires the handlers. banners and sink may be nil.
func NewStatusServer(session *Session, scheduler *reminder.Scheduler, banners *notify.BannerBoard, sink *notify.Sink) *StatusServer {
	s := &StatusServer{
		session:   session,
		scheduler: scheduler,
		banners:   banners,
		sink:      sink,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/status", s.status)
	s.mux.HandleFunc("/banners", s.bannerList)
	s.mux.HandleFunc("/events", s.events)
	return s
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *StatusServer) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.APIResponse{Success: true, Data: data})
}

func (s *StatusServer) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.APIResponse{Success: false, Error: err})
}

// GET /status - open calendar, connection and scheduler snapshot
func (s *StatusServer) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Connected: s.session.Connected(),
		Events:    s.session.Store().Len(),
		Reminders: s.scheduler.Status(),
		Channels:  []string{},
	}
	if cal, ok := s.session.Current(); ok {
		resp.Calendar = &cal
	}
	if t := s.session.JoinedAt(); !t.IsZero() {
		resp.JoinedAt = &t
	}
	if s.sink != nil {
		resp.Channels = s.sink.Channels()
	}
	s.jsonResponse(w, resp)
}

// GET    /banners           - in-app notifications, newest first
// DELETE /banners?id=<corr> - dismiss one
func (s *StatusServer) bannerList(w http.ResponseWriter, r *http.Request) {
	if s.banners == nil {
		s.jsonError(w, "In-app notifications disabled", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.jsonResponse(w, s.banners.Banners())

	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			s.jsonError(w, "id is required", http.StatusBadRequest)
			return
		}
		if !s.banners.Dismiss(id) {
			s.jsonError(w, "Banner not found", http.StatusNotFound)
			return
		}
		s.jsonResponse(w, map[string]string{"dismissed": id})

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /events?date=YYYY-MM-DD - events of one local day, or all without date
func (s *StatusServer) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store := s.session.Store()
	loc := store.Location()

	var events []domain.Event
	if v := r.URL.Query().Get("date"); v != "" {
		date, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			s.jsonError(w, "Invalid date format (use YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		events = store.EventsOn(date)
	} else {
		events = store.Events()
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			Event:    e,
			Time:     e.FormatTime(loc),
			Reminder: domain.FormatReminder(e.ReminderMinutes),
		})
	}
	s.jsonResponse(w, out)
}
