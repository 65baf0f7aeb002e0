// Package eventstore keeps the ordered event collection of the currently
// open calendar and forwards every mutation to the reminder scheduler.
package eventstore

import (
	"sync"
	"time"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

// Observer receives every mutation applied to the store.
// *reminder.Scheduler satisfies it.
type Observer interface {
	AddEvent(e domain.Event)
	UpdateEvent(e domain.Event)
	RemoveEvent(eventID int64)
	LoadEvents(events []domain.Event)
}

type ChangeKind string

const (
	ChangeReset   ChangeKind = "reset"
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change describes one applied mutation. Event is empty for resets and removals.
type Change struct {
	Kind    ChangeKind
	EventID int64
	Event   domain.Event
}

// Listener is called after a mutation has been applied. It may read the store.
type Listener func(Change)

type Option func(*Store)

// WithObserver registers the component that mirrors mutations (reminders).
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithListener adds a change listener, e.g. a renderer.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

type Store struct {
	// writeMu serializes whole mutations including forwarding, so the
	// observer sees them in the same order the store applied them.
	writeMu sync.Mutex

	mu    sync.RWMutex
	loc   *time.Location
	order []int64
	byID  map[int64]domain.Event

	observer  Observer
	listeners []Listener
}

func New(loc *time.Location, opts ...Option) *Store {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		loc:  loc,
		byID: make(map[int64]domain.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEvents replaces the whole collection, used after a full calendar load.
func (s *Store) SetEvents(events []domain.Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.order = s.order[:0]
	s.byID = make(map[int64]domain.Event, len(events))
	loaded := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if _, dup := s.byID[e.ID]; dup {
			continue
		}
		s.byID[e.ID] = e
		s.order = append(s.order, e.ID)
		loaded = append(loaded, e)
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.LoadEvents(loaded)
	}
	s.emit(Change{Kind: ChangeReset})
}

// AddEvent inserts e unless an event with the same id is already present.
// It reports whether the event was inserted.
func (s *Store) AddEvent(e domain.Event) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.byID[e.ID]; ok {
		s.mu.Unlock()
		log.Debug("event already present, skipping add", "event_id", e.ID)
		return false
	}
	s.byID[e.ID] = e
	s.order = append(s.order, e.ID)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.AddEvent(e)
	}
	s.emit(Change{Kind: ChangeAdded, EventID: e.ID, Event: e})
	return true
}

// UpdateEvent replaces the entry with the same id. Unknown ids are ignored.
func (s *Store) UpdateEvent(e domain.Event) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.byID[e.ID]; !ok {
		s.mu.Unlock()
		log.Warn("update for unknown event ignored", "event_id", e.ID)
		return false
	}
	s.byID[e.ID] = e
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.UpdateEvent(e)
	}
	s.emit(Change{Kind: ChangeUpdated, EventID: e.ID, Event: e})
	return true
}

// RemoveEvent deletes the entry if present. The observer is always told,
// since it may track a reminder the store never saw.
func (s *Store) RemoveEvent(eventID int64) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	_, ok := s.byID[eventID]
	if ok {
		delete(s.byID, eventID)
		for i, id := range s.order {
			if id == eventID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.RemoveEvent(eventID)
	}
	if ok {
		s.emit(Change{Kind: ChangeRemoved, EventID: eventID})
	}
	return ok
}

// EventsOn returns the events starting on the given local date, in insertion order.
func (s *Store) EventsOn(date time.Time) []domain.Event {
	d := date.In(s.loc)
	y, m, day := d.Date()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, id := range s.order {
		e := s.byID[id]
		ey, em, ed := e.StartTime.In(s.loc).Date()
		if ey == y && em == m && ed == day {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Store) Get(eventID int64) (domain.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[eventID]
	return e, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) Location() *time.Location {
	return s.loc
}

func (s *Store) emit(c Change) {
	for _, l := range s.listeners {
		l(c)
	}
}
