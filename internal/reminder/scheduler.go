// Package reminder tracks one reminder per event and fires it through a
// Notifier when its fire time arrives.
package reminder

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

const (
	DefaultInterval = 10 * time.Second
	MinInterval     = time.Second
	MaxInterval     = time.Minute

	upcomingLimit = 5
)

// Notifier delivers a reminder to the user. It must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Ledger remembers delivered reminders across restarts.
type Ledger interface {
	WasNotified(eventID int64, fireTime time.Time) (bool, error)
	MarkNotified(eventID int64, fireTime time.Time) error
	Forget(eventID int64) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Scheduler)

// WithInterval sets the poll interval, clamped to [MinInterval, MaxInterval].
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = ClampInterval(d) }
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLedger(l Ledger) Option {
	return func(s *Scheduler) { s.ledger = l }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// ClampInterval maps non-positive values to the default.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

type entry struct {
	domain.Reminder
	seq uint64
}

type Scheduler struct {
	notifier Notifier
	clock    Clock
	ledger   Ledger
	interval time.Duration
	loc      *time.Location

	mu        sync.Mutex
	reminders map[int64]*entry
	seq       uint64
	ctx       context.Context

	// runMu guards the poll lifecycle; pollMu keeps polls from overlapping.
	runMu   sync.Mutex
	pollMu  sync.Mutex
	cron    *cron.Cron
	running bool
	cancel  context.CancelFunc
}

func New(notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier:  notifier,
		clock:     realClock{},
		interval:  DefaultInterval,
		loc:       time.Local,
		reminders: make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// AddEvent tracks a reminder for e, replacing any existing one for the same id.
// A fire time already in the past is tracked as due and fires on the next poll.
func (s *Scheduler) AddEvent(e domain.Event) {
	r, ok := domain.NewReminder(e)
	if !ok {
		s.mu.Lock()
		delete(s.reminders, e.ID)
		s.mu.Unlock()
		return
	}

	delivered := s.wasNotified(r.EventID, r.FireTime)

	now := s.clock.Now()
	switch {
	case delivered:
		r.State = domain.ReminderNotified
	case !now.Before(r.FireTime):
		r.State = domain.ReminderDue
	}

	s.mu.Lock()
	s.seq++
	s.reminders[e.ID] = &entry{Reminder: r, seq: s.seq}
	s.mu.Unlock()

	log.Debug("reminder tracked", "event_id", e.ID, "fire_time", r.FireTime.In(s.loc).Format(time.RFC3339), "state", r.State)
}

// UpdateEvent replaces the reminder. The notified flag is always cleared,
// even when the fire time did not change.
func (s *Scheduler) UpdateEvent(e domain.Event) {
	s.RemoveEvent(e.ID)
	s.AddEvent(e)
}

// RemoveEvent stops tracking the reminder of eventID. Unknown ids are fine.
func (s *Scheduler) RemoveEvent(eventID int64) {
	s.mu.Lock()
	delete(s.reminders, eventID)
	s.mu.Unlock()

	if s.ledger != nil {
		if err := s.ledger.Forget(eventID); err != nil {
			log.Error("forget reminder delivery", err, "event_id", eventID)
		}
	}
}

// LoadEvents drops every tracked reminder and tracks the given events instead.
func (s *Scheduler) LoadEvents(events []domain.Event) {
	s.mu.Lock()
	s.reminders = make(map[int64]*entry, len(events))
	s.mu.Unlock()

	for _, e := range events {
		s.AddEvent(e)
	}
	log.Info("reminders loaded", "events", len(events), "tracked", s.Len())
}

// Clear stops tracking every reminder.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.reminders = make(map[int64]*entry)
	s.mu.Unlock()
}

// Start begins polling. It polls once immediately, so a reminder that is
// already due fires without waiting for the first tick. Calling Start while
// running is a no-op. The returned func stops the scheduler.
func (s *Scheduler) Start() (stop func()) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return s.Stop
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cancel = cancel
	s.running = true

	s.CheckReminders()

	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, s.CheckReminders); err != nil {
		log.Error("schedule reminder poll", err, "schedule", schedule)
	}
	s.cron.Start()

	log.Info("reminder scheduler started", "interval", s.interval)
	return s.Stop
}

// Stop halts polling and waits for an in-flight poll. No poll starts after
// it returns.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.cron = nil

	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()

	log.Info("reminder scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// CheckReminders is one poll: it notifies every reminder that became due,
// then retires reminders whose event has started.
func (s *Scheduler) CheckReminders() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	now := s.clock.Now()

	var due []domain.Reminder

	s.mu.Lock()
	for _, e := range s.ordered() {
		if now.After(e.EventStart) {
			if !e.Notified() {
				log.Info("event started before its reminder fired, dropping", "event_id", e.EventID)
			}
			delete(s.reminders, e.EventID)
			continue
		}
		if e.Notified() {
			continue
		}
		if !now.Before(e.FireTime) {
			e.State = domain.ReminderNotified
			due = append(due, e.Reminder)
		}
	}
	s.mu.Unlock()

	ctx := s.runContext()
	for _, r := range due {
		if s.ledger != nil {
			if err := s.ledger.MarkNotified(r.EventID, r.FireTime); err != nil {
				log.Error("record reminder delivery", err, "event_id", r.EventID)
			}
		}
		log.Info("firing reminder", "event_id", r.EventID, "title", r.Title)
		s.notifier.Notify(ctx, r.Notification())
	}
}

// Upcoming is a reminder that has not fired yet.
type Upcoming struct {
	EventID      int64     `json:"event_id"`
	Title        string    `json:"title"`
	FireTime     time.Time `json:"fire_time"`
	MinutesUntil int       `json:"minutes_until"`
}

type Status struct {
	Running  bool       `json:"running"`
	Count    int        `json:"count"`
	Upcoming []Upcoming `json:"upcoming"`
}

// Status returns a snapshot: the running flag, the number of tracked
// reminders and the next five that have not fired, earliest first.
func (s *Scheduler) Status() Status {
	now := s.clock.Now()
	running := s.Running()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: running, Count: len(s.reminders), Upcoming: []Upcoming{}}
	for _, e := range s.ordered() {
		if e.Notified() {
			continue
		}
		st.Upcoming = append(st.Upcoming, Upcoming{
			EventID:      e.EventID,
			Title:        e.Title,
			FireTime:     e.FireTime.In(s.loc),
			MinutesUntil: int(math.Ceil(e.FireTime.Sub(now).Minutes())),
		})
	}
	sort.SliceStable(st.Upcoming, func(i, j int) bool {
		return st.Upcoming[i].FireTime.Before(st.Upcoming[j].FireTime)
	})
	if len(st.Upcoming) > upcomingLimit {
		st.Upcoming = st.Upcoming[:upcomingLimit]
	}
	return st
}

// Reminder returns a copy of the tracked reminder for eventID.
func (s *Scheduler) Reminder(eventID int64) (domain.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reminders[eventID]
	if !ok {
		return domain.Reminder{}, false
	}
	return e.Reminder, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reminders)
}

// ordered returns entries in insertion order. Callers hold s.mu.
func (s *Scheduler) ordered() []*entry {
	out := make([]*entry, 0, len(s.reminders))
	for _, e := range s.reminders {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *Scheduler) wasNotified(eventID int64, fireTime time.Time) bool {
	if s.ledger == nil {
		return false
	}
	ok, err := s.ledger.WasNotified(eventID, fireTime)
	if err != nil {
		log.Error("check reminder delivery", err, "event_id", eventID)
		return false
	}
	return ok
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}
