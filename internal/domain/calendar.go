package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a calendar or event does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps validation failures of user input.
	ErrInvalid = errors.New("invalid input")
)

const (
	ShareCodeLength   = 8
	shareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultReminderMinutes applies when an event is created without an explicit offset.
	DefaultReminderMinutes = 15
)

// Calendar is a shared calendar addressed by its share code.
type Calendar struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	ShareCode         string    `json:"share_code"`
	CreatedAt         time.Time `json:"created_at"`
	EventsCount       int       `json:"events_count"`
	RecentEventTitles []string  `json:"recent_event_titles,omitempty"`
}

// Event is a single calendar entry. Identity is assigned by the server.
type Event struct {
	ID              int64     `json:"id"`
	CalendarID      int64     `json:"calendar_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	AllDay          bool      `json:"all_day"`
	ReminderMinutes int       `json:"reminder_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the invariants every stored event must hold.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", ErrInvalid)
	}
	if !e.StartTime.Before(e.EndTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalid)
	}
	if e.ReminderMinutes < 0 {
		return fmt.Errorf("%w: reminder_minutes cannot be negative", ErrInvalid)
	}
	return nil
}

// HasReminder reports whether the event asks for a reminder at all.
func (e *Event) HasReminder() bool {
	return e.ReminderMinutes > 0
}

// ReminderAt is the instant the reminder should fire.
func (e *Event) ReminderAt() time.Time {
	return e.StartTime.Add(-time.Duration(e.ReminderMinutes) * time.Minute)
}

// NormalizeAllDay stretches an all-day event over its local days: the start
// becomes 00:00:00 of the start date and the end 23:59:59 of the end date.
func (e *Event) NormalizeAllDay(loc *time.Location) {
	if !e.AllDay {
		return
	}
	if loc == nil {
		loc = time.UTC
	}
	s := e.StartTime.In(loc)
	end := e.EndTime.In(loc)
	e.StartTime = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	e.EndTime = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, loc)
}

// LocalDate returns the start date of the event in loc at midnight.
func (e *Event) LocalDate(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	s := e.StartTime.In(loc)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
}

// FormatTime returns a short time range for display.
func (e *Event) FormatTime(loc *time.Location) string {
	if e.AllDay {
		return "All day"
	}
	if loc == nil {
		loc = time.Local
	}
	return e.StartTime.In(loc).Format("15:04") + "-" + e.EndTime.In(loc).Format("15:04")
}

// FormatReminder renders the reminder offset the way the calendar UI shows it.
func FormatReminder(minutes int) string {
	switch {
	case minutes <= 0:
		return "No reminder"
	case minutes < 60:
		return fmt.Sprintf("%d minutes before", minutes)
	case minutes < 1440:
		h := minutes / 60
		return fmt.Sprintf("%d hour%s before", h, plural(h))
	default:
		d := minutes / 1440
		return fmt.Sprintf("%d day%s before", d, plural(d))
	}
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}

// NewShareCode returns a random share code. Uniqueness is the caller's job.
func NewShareCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(shareCodeAlphabet)))
	for i := 0; i < ShareCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate share code: %w", err)
		}
		sb.WriteByte(shareCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeShareCode trims and upper-cases user supplied codes.
func NormalizeShareCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RoomName is the broadcast room for a calendar.
func RoomName(shareCode string) string {
	return "calendar_" + NormalizeShareCode(shareCode)
}
