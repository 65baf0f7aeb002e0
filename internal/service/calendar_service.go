package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/ics"
	"github.com/tazhate/familycal/internal/log"
	"github.com/tazhate/familycal/internal/storage"
)

const (
	shareCodeAttempts  = 10
	recentTitlesLimit  = 3
	upcomingWindow     = 24 * time.Hour
	upcomingEventLimit = 50
)

// Broadcaster fans a message out to every client in a calendar's room.
type Broadcaster interface {
	Broadcast(shareCode string, env domain.Envelope)
}

// Mirror keeps an external calendar in step with ours.
type Mirror interface {
	PutEvent(ctx context.Context, e domain.Event) error
	DeleteEvent(ctx context.Context, eventID int64) error
}

// EventInput is the body of create and update requests. Nil fields are
// left unchanged on update and defaulted on create.
type EventInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	StartTime       *string `json:"start_time"`
	EndTime         *string `json:"end_time"`
	AllDay          *bool   `json:"all_day"`
	ReminderMinutes *int    `json:"reminder_minutes"`
}

// CalendarService owns calendar and event persistence and announces every
// change to the calendar's room.
type CalendarService struct {
	storage     *storage.Storage
	broadcaster Broadcaster
	mirror      Mirror
	timezone    *time.Location
	now         func() time.Time
}

func NewCalendarService(s *storage.Storage, tz *time.Location) *CalendarService {
	if tz == nil {
		tz = time.UTC
	}
	return &CalendarService{
		storage:  s,
		timezone: tz,
		now:      time.Now,
	}
}

func (s *CalendarService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetMirror enables best-effort mirroring, e.g. to CalDAV.
func (s *CalendarService) SetMirror(m Mirror) {
	s.mirror = m
}

func (s *CalendarService) Location() *time.Location {
	return s.timezone
}

// ==================== Calendars ====================

func (s *CalendarService) CreateCalendar(name string) (*domain.Calendar, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: calendar name is required", domain.ErrInvalid)
	}

	for i := 0; i < shareCodeAttempts; i++ {
		code, err := domain.NewShareCode()
		if err != nil {
			return nil, err
		}
		exists, err := s.storage.ShareCodeExists(code)
		if err != nil {
			return nil, fmt.Errorf("check share code: %w", err)
		}
		if exists {
			continue
		}

		c := &domain.Calendar{Name: name, ShareCode: code}
		if err := s.storage.CreateCalendar(c); err != nil {
			if storage.IsUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("create calendar: %w", err)
		}
		log.Info("calendar created", "calendar_id", c.ID, "share_code", c.ShareCode)
		return c, nil
	}
	return nil, fmt.Errorf("could not allocate a unique share code")
}

// GetByShareCode returns the calendar with its event count and latest titles.
func (s *CalendarService) GetByShareCode(code string) (*domain.Calendar, error) {
	code = domain.NormalizeShareCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: share code is required", domain.ErrInvalid)
	}

	c, err := s.storage.GetCalendarByShareCode(code)
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("calendar %s: %w", code, domain.ErrNotFound)
	}

	if c.EventsCount, err = s.storage.CountEvents(c.ID); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if c.RecentEventTitles, err = s.storage.RecentEventTitles(c.ID, recentTitlesLimit); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return c, nil
}

// Join resolves a share code typed by a user. Membership itself lives in
// the room hub; here the code only has to exist.
func (s *CalendarService) Join(code string) (*domain.Calendar, error) {
	c, err := s.GetByShareCode(code)
	if err != nil {
		return nil, err
	}
	log.Info("calendar joined", "calendar_id", c.ID, "share_code", c.ShareCode)
	return c, nil
}

// ==================== Events ====================

func (s *CalendarService) GetEvent(id int64) (*domain.Event, error) {
	e, err := s.storage.GetEvent(id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// ListEvents returns the calendar's events starting within [from, to].
// Zero bounds are open.
func (s *CalendarService) ListEvents(code string, from, to time.Time) ([]*domain.Event, error) {
	c, err := s.calendar(code)
	if err != nil {
		return nil, err
	}
	events, err := s.storage.ListEvents(c.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Upcoming returns events starting within the next 24 hours.
func (s *CalendarService) Upcoming(code string) ([]*domain.Event, error) {
	c, err := s.calendar(code)
	if err != nil {
		return nil, err
	}
	now := s.now()
	events, err := s.storage.ListUpcomingEvents(c.ID, now, now.Add(upcomingWindow), upcomingEventLimit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	return events, nil
}

func (s *CalendarService) CreateEvent(ctx context.Context, code string, in EventInput) (*domain.Event, error) {
	c, err := s.calendar(code)
	if err != nil {
		return nil, err
	}

	if in.Title == nil || in.StartTime == nil || in.EndTime == nil {
		return nil, fmt.Errorf("%w: title, start_time and end_time are required", domain.ErrInvalid)
	}

	e := &domain.Event{
		CalendarID:      c.ID,
		ReminderMinutes: domain.DefaultReminderMinutes,
	}
	if err := s.apply(e, in); err != nil {
		return nil, err
	}

	if err := s.storage.CreateEvent(e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	log.Info("event created", "event_id", e.ID, "calendar_id", c.ID)

	s.broadcast(c.ShareCode, domain.MsgEventCreated, e)
	s.mirrorPut(ctx, *e)
	return e, nil
}

func (s *CalendarService) UpdateEvent(ctx context.Context, id int64, in EventInput) (*domain.Event, error) {
	e, err := s.GetEvent(id)
	if err != nil {
		return nil, err
	}

	if err := s.apply(e, in); err != nil {
		return nil, err
	}

	if err := s.storage.UpdateEvent(e); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	log.Info("event updated", "event_id", e.ID)

	if c, err := s.storage.GetCalendar(e.CalendarID); err == nil && c != nil {
		s.broadcast(c.ShareCode, domain.MsgEventUpdated, e)
	}
	s.mirrorPut(ctx, *e)
	return e, nil
}

func (s *CalendarService) DeleteEvent(ctx context.Context, id int64) error {
	e, err := s.GetEvent(id)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteEvent(id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	log.Info("event deleted", "event_id", id)

	if c, err := s.storage.GetCalendar(e.CalendarID); err == nil && c != nil {
		s.broadcast(c.ShareCode, domain.MsgEventDeleted, domain.EventDeleted{EventID: id})
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteEvent(ctx, id); err != nil {
			log.Error("mirror delete failed", err, "event_id", id)
		}
	}
	return nil
}

// ExportICS renders the whole calendar as an iCalendar feed.
func (s *CalendarService) ExportICS(code string) ([]byte, *domain.Calendar, error) {
	c, err := s.calendar(code)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.storage.ListEvents(c.ID, time.Time{}, time.Time{})
	if err != nil {
		return nil, nil, fmt.Errorf("list events: %w", err)
	}

	list := make([]domain.Event, 0, len(events))
	for _, e := range events {
		list = append(list, *e)
	}
	data, err := ics.Marshal(ics.Feed(*c, list, s.timezone, s.now()))
	if err != nil {
		return nil, nil, err
	}
	return data, c, nil
}

func (s *CalendarService) calendar(code string) (*domain.Calendar, error) {
	code = domain.NormalizeShareCode(code)
	c, err := s.storage.GetCalendarByShareCode(code)
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("calendar %s: %w", code, domain.ErrNotFound)
	}
	return c, nil
}

// apply copies the set fields of in onto e and validates the result.
func (s *CalendarService) apply(e *domain.Event, in EventInput) error {
	if in.Title != nil {
		e.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.StartTime != nil {
		t, err := ParseTime(*in.StartTime, s.timezone)
		if err != nil {
			return fmt.Errorf("%w: start_time: %v", domain.ErrInvalid, err)
		}
		e.StartTime = t
	}
	if in.EndTime != nil {
		t, err := ParseTime(*in.EndTime, s.timezone)
		if err != nil {
			return fmt.Errorf("%w: end_time: %v", domain.ErrInvalid, err)
		}
		e.EndTime = t
	}
	if in.AllDay != nil {
		e.AllDay = *in.AllDay
	}
	if in.ReminderMinutes != nil {
		e.ReminderMinutes = *in.ReminderMinutes
	}

	e.NormalizeAllDay(s.timezone)
	return e.Validate()
}

func (s *CalendarService) broadcast(code string, t domain.MessageType, payload any) {
	if s.broadcaster == nil {
		return
	}
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		log.Error("build broadcast", err, "type", t)
		return
	}
	s.broadcaster.Broadcast(code, env)
}

func (s *CalendarService) mirrorPut(ctx context.Context, e domain.Event) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.PutEvent(ctx, e); err != nil {
		log.Error("mirror put failed", err, "event_id", e.ID)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 or a local date/time without offset, which is
// read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime format %q", s)
}
