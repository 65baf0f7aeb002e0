// Package agent ties the local event store, the room connection and the
// server API together for the calendar the user has open.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tazhate/familycal/internal/clients/calapi"
	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/eventstore"
	"github.com/tazhate/familycal/internal/log"
	"github.com/tazhate/familycal/internal/room"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// API is the subset of the server API the session needs.
// *calapi.Client satisfies it.
type API interface {
	GetCalendar(ctx context.Context, shareCode string) (*domain.Calendar, error)
	ListEvents(ctx context.Context, shareCode string, from, to time.Time) ([]domain.Event, error)
	CreateEvent(ctx context.Context, shareCode string, req calapi.EventRequest) (*domain.Event, error)
	UpdateEvent(ctx context.Context, id int64, req calapi.EventRequest) (*domain.Event, error)
	DeleteEvent(ctx context.Context, id int64) error
}

// Dialer opens a new room connection.
type Dialer func(ctx context.Context) (room.Transport, error)

// ErrNoCalendar is returned by local mutations while no calendar is open.
var ErrNoCalendar = errors.New("no calendar open")

type Option func(*Session)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(lo, hi time.Duration) Option {
	return func(s *Session) {
		if lo > 0 {
			s.minBackoff = lo
		}
		if hi >= s.minBackoff {
			s.maxBackoff = hi
		}
	}
}

// Session owns the open calendar and its room connection.
type Session struct {
	api   API
	dial  Dialer
	store *eventstore.Store

	minBackoff time.Duration
	maxBackoff time.Duration

	// openMu serializes Open so that two switches cannot interleave.
	openMu sync.Mutex

	mu       sync.RWMutex
	current  *domain.Calendar
	conn     *room.Synchronizer
	joinedAt time.Time
}

func NewSession(api API, dial Dialer, store *eventstore.Store, opts ...Option) *Session {
	s := &Session{
		api:        api,
		dial:       dial,
		store:      store,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Store() *eventstore.Store {
	return s.store
}

// Current returns the open calendar, if any.
func (s *Session) Current() (domain.Calendar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Calendar{}, false
	}
	return *s.current, true
}

// Connected reports whether a room connection is up.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// JoinedAt is the last time the server acknowledged a join.
func (s *Session) JoinedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinedAt
}

// Open switches to the calendar behind shareCode. The calendar and its
// events are fetched first, so a bad code leaves the current one open.
// Then the old room is left, the store is replaced and the new room joined.
func (s *Session) Open(ctx context.Context, shareCode string) (*domain.Calendar, error) {
	code := domain.NormalizeShareCode(shareCode)
	if code == "" {
		return nil, fmt.Errorf("%w: share code is required", domain.ErrInvalid)
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	cal, err := s.api.GetCalendar(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("open calendar %s: %w", code, err)
	}
	events, err := s.api.ListEvents(ctx, code, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load events of %s: %w", code, err)
	}

	s.mu.Lock()
	prev, conn := s.current, s.conn
	s.current = cal
	s.mu.Unlock()

	if prev != nil && conn != nil && prev.ShareCode != cal.ShareCode {
		conn.Leave(ctx, prev.ShareCode)
	}

	s.store.SetEvents(events)
	log.Info("calendar opened", "share_code", cal.ShareCode, "name", cal.Name, "events", len(events))

	if conn != nil {
		conn.Join(ctx, cal.ShareCode)
	}
	return cal, nil
}

// Close leaves the open calendar and forgets its events.
func (s *Session) Close(ctx context.Context) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	prev, conn := s.current, s.conn
	s.current = nil
	s.mu.Unlock()

	if prev != nil && conn != nil {
		conn.Leave(ctx, prev.ShareCode)
	}
	s.store.SetEvents(nil)
}

// refresh reloads the open calendar's events, e.g. after a reconnect
// during which broadcasts may have been missed.
func (s *Session) refresh(ctx context.Context) error {
	cal, ok := s.Current()
	if !ok {
		return nil
	}
	events, err := s.api.ListEvents(ctx, cal.ShareCode, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	s.mu.RLock()
	stillOpen := s.current != nil && s.current.ID == cal.ID
	s.mu.RUnlock()
	if stillOpen {
		s.store.SetEvents(events)
	}
	return nil
}

// Run keeps a room connection up until ctx is done, redialing with
// exponential backoff and re-joining the open calendar each time.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.minBackoff
	reconnect := false

	for {
		t, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("room dial failed", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff

		rs := room.NewSynchronizer(t, roomTarget{s}, room.WithJoinedHandler(s.onJoined))
		s.mu.Lock()
		s.conn = rs
		cal := s.current
		s.mu.Unlock()

		if cal != nil {
			if reconnect {
				if err := s.refresh(ctx); err != nil {
					log.Warn("refresh after reconnect failed", "err", err)
				}
			}
			rs.Join(ctx, cal.ShareCode)
		}
		log.Info("room connected", "reconnect", reconnect)

		err = rs.Run(ctx)

		s.mu.Lock()
		if s.conn == rs {
			s.conn = nil
		}
		s.mu.Unlock()
		t.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("room connection lost", "err", err, "retry_in", backoff)
		reconnect = true
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (s *Session) onJoined(cal domain.Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ShareCode != cal.ShareCode {
		log.Debug("ignoring join ack for another calendar", "share_code", cal.ShareCode)
		return
	}
	s.joinedAt = time.Now()
	log.Info("joined calendar room", "share_code", cal.ShareCode)
}

// ==================== Room messages ====================

// roomTarget applies room messages to the store, dropping events that
// belong to a calendar other than the open one.
type roomTarget struct {
	s *Session
}

func (t roomTarget) AddEvent(e domain.Event) bool {
	if !t.s.belongs(e) {
		return false
	}
	return t.s.store.AddEvent(e)
}

func (t roomTarget) UpdateEvent(e domain.Event) bool {
	if !t.s.belongs(e) {
		return false
	}
	return t.s.store.UpdateEvent(e)
}

func (t roomTarget) RemoveEvent(eventID int64) bool {
	return t.s.store.RemoveEvent(eventID)
}

func (s *Session) belongs(e domain.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return false
	}
	if e.CalendarID != 0 && e.CalendarID != s.current.ID {
		log.Debug("dropping event of another calendar", "event_id", e.ID, "calendar_id", e.CalendarID)
		return false
	}
	return true
}

// ==================== Local mutations ====================

// CreateEvent creates an event on the server and applies the result
// locally. The room echo is then a no-op.
func (s *Session) CreateEvent(ctx context.Context, req calapi.EventRequest) (*domain.Event, error) {
	cal, ok := s.Current()
	if !ok {
		return nil, ErrNoCalendar
	}
	e, err := s.api.CreateEvent(ctx, cal.ShareCode, req)
	if err != nil {
		return nil, err
	}
	s.store.AddEvent(*e)
	return e, nil
}

func (s *Session) UpdateEvent(ctx context.Context, id int64, req calapi.EventRequest) (*domain.Event, error) {
	if _, ok := s.Current(); !ok {
		return nil, ErrNoCalendar
	}
	e, err := s.api.UpdateEvent(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if !s.store.UpdateEvent(*e) {
		s.store.AddEvent(*e)
	}
	return e, nil
}

func (s *Session) DeleteEvent(ctx context.Context, id int64) error {
	if _, ok := s.Current(); !ok {
		return ErrNoCalendar
	}
	if err := s.api.DeleteEvent(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.store.RemoveEvent(id)
	return nil
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

// sleep waits d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
