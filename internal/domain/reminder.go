package domain

import (
	"fmt"
	"strconv"
	"time"
)

type ReminderState string

const (
	ReminderPending  ReminderState = "pending"
	ReminderDue      ReminderState = "due"
	ReminderNotified ReminderState = "notified"
)

// Reminder is derived from an Event and never stored on its own.
// At most one exists per EventID.
type Reminder struct {
	EventID    int64
	Title      string
	FireTime   time.Time
	EventStart time.Time
	Minutes    int
	State      ReminderState
}

// NewReminder derives the reminder for e. ok is false when e has no reminder.
func NewReminder(e Event) (r Reminder, ok bool) {
	if !e.HasReminder() {
		return Reminder{}, false
	}
	return Reminder{
		EventID:    e.ID,
		Title:      e.Title,
		FireTime:   e.ReminderAt(),
		EventStart: e.StartTime,
		Minutes:    e.ReminderMinutes,
		State:      ReminderPending,
	}, true
}

// Notified reports whether the reminder has already been delivered.
func (r *Reminder) Notified() bool {
	return r.State == ReminderNotified
}

// Notification builds the user-facing message for this reminder.
func (r *Reminder) Notification() Notification {
	return Notification{
		Title:         "Event Reminder",
		Body:          fmt.Sprintf("%q starts in %d minutes", r.Title, r.Minutes),
		CorrelationID: strconv.FormatInt(r.EventID, 10),
	}
}

// Notification is what a sink delivers. CorrelationID lets channels replace
// an earlier notification for the same event instead of stacking a new one.
type Notification struct {
	Title         string `json:"title"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id"`
}
