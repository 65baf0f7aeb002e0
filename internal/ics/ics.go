// Package ics renders calendar events as iCalendar data.
package ics

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tazhate/familycal/internal/domain"
)

const ProductID = "-//familycal//Shared Calendar//EN"

// UID is the stable iCalendar UID of an event.
func UID(eventID int64) string {
	return fmt.Sprintf("event-%d@familycal", eventID)
}

// NewCalendar returns an empty VCALENDAR with the required properties.
func NewCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	if name != "" {
		cal.Props.SetText(ical.PropMethod, "PUBLISH")
		cal.Props.SetText("X-WR-CALNAME", name)
	}
	return cal
}

// Feed builds a VCALENDAR holding every event of c.
func Feed(c domain.Calendar, events []domain.Event, loc *time.Location, now time.Time) *ical.Calendar {
	cal := NewCalendar(c.Name)
	for _, e := range events {
		cal.Children = append(cal.Children, EventComponent(e, loc, now).Component)
	}
	return cal
}

// EventCalendar wraps a single event, as CalDAV servers expect one per object.
func EventCalendar(e domain.Event, loc *time.Location, now time.Time) *ical.Calendar {
	cal := NewCalendar("")
	cal.Children = append(cal.Children, EventComponent(e, loc, now).Component)
	return cal
}

// EventComponent converts e to a VEVENT. All-day events use DATE values in
// loc with an exclusive end date. A reminder becomes a DISPLAY alarm.
func EventComponent(e domain.Event, loc *time.Location, now time.Time) *ical.Event {
	if loc == nil {
		loc = time.UTC
	}

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, UID(e.ID))
	vevent.Props.SetText(ical.PropSummary, e.Title)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}

	if e.AllDay {
		start := e.StartTime.In(loc)
		end := e.EndTime.In(loc)
		vevent.Props.SetDate(ical.PropDateTimeStart, start)
		vevent.Props.SetDate(ical.PropDateTimeEnd, time.Date(end.Year(), end.Month(), end.Day()+1, 0, 0, 0, 0, loc))
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
	}

	if !e.UpdatedAt.IsZero() {
		vevent.Props.SetDateTime(ical.PropLastModified, e.UpdatedAt.UTC())
	}

	if e.HasReminder() {
		vevent.Children = append(vevent.Children, alarm(e))
	}
	return vevent
}

func alarm(e domain.Event) *ical.Component {
	a := ical.NewComponent(ical.CompAlarm)
	a.Props.SetText(ical.PropAction, "DISPLAY")
	a.Props.SetText(ical.PropDescription, e.Title)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", e.ReminderMinutes)
	a.Props.Set(trigger)
	return a
}

func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode ics: %w", err)
	}
	return nil
}

// Marshal returns the encoded calendar.
func Marshal(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
