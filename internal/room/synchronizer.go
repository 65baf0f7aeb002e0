// Package room bridges the calendar broadcast room to the local event store.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

// EventTarget receives the mutations carried by room messages.
// *eventstore.Store satisfies it.
type EventTarget interface {
	AddEvent(e domain.Event) bool
	UpdateEvent(e domain.Event) bool
	RemoveEvent(eventID int64) bool
}

type Option func(*Synchronizer)

// WithJoinedHandler is called when the server acknowledges a join.
func WithJoinedHandler(fn func(domain.Calendar)) Option {
	return func(s *Synchronizer) { s.onJoined = fn }
}

// Synchronizer never originates events; it only applies what the room sends.
type Synchronizer struct {
	transport Transport
	target    EventTarget
	onJoined  func(domain.Calendar)
}

func NewSynchronizer(t Transport, target EventTarget, opts ...Option) *Synchronizer {
	s := &Synchronizer{transport: t, target: target}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join asks the server to add this client to the calendar's room.
// It is fire-and-forget: a failure is logged and not retried.
func (s *Synchronizer) Join(ctx context.Context, shareCode string) {
	s.send(ctx, domain.MsgJoinCalendar, shareCode)
}

// Leave asks the server to drop this client from the calendar's room.
func (s *Synchronizer) Leave(ctx context.Context, shareCode string) {
	s.send(ctx, domain.MsgLeaveCalendar, shareCode)
}

func (s *Synchronizer) send(ctx context.Context, t domain.MessageType, shareCode string) {
	code := domain.NormalizeShareCode(shareCode)
	if code == "" {
		return
	}
	env, err := domain.NewEnvelope(t, domain.RoomRequest{ShareCode: code})
	if err != nil {
		log.Error("build room request", err, "type", t)
		return
	}
	if err := s.transport.Send(ctx, env); err != nil {
		log.Warn("room request failed", "type", t, "share_code", code, "err", err)
		return
	}
	log.Debug("room request sent", "type", t, "share_code", code)
}

// Run applies incoming messages until ctx is done or the transport fails.
// Transport errors are returned so the caller can reconnect and re-join.
func (s *Synchronizer) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.transport.Close()
		case <-done:
		}
	}()

	for {
		env, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var perr *PayloadError
			if errors.As(err, &perr) {
				log.Warn("dropping undecodable room frame", "err", perr.Err)
				continue
			}
			return fmt.Errorf("receive room message: %w", err)
		}
		s.Handle(env)
	}
}

// Handle applies one message. Malformed payloads are dropped with a warning.
func (s *Synchronizer) Handle(env domain.Envelope) {
	switch env.Type {
	case domain.MsgEventCreated:
		if e, ok := decodeEvent(env); ok {
			s.target.AddEvent(e)
		}
	case domain.MsgEventUpdated:
		if e, ok := decodeEvent(env); ok {
			s.target.UpdateEvent(e)
		}
	case domain.MsgEventDeleted:
		var p struct {
			EventID *int64 `json:"event_id"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn("dropping malformed payload", "type", env.Type, "err", err)
			return
		}
		if p.EventID == nil {
			log.Warn("dropping payload without event_id", "type", env.Type)
			return
		}
		s.target.RemoveEvent(*p.EventID)
	case domain.MsgJoinedCalendar:
		var p domain.JoinedCalendar
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn("dropping malformed payload", "type", env.Type, "err", err)
			return
		}
		log.Info("joined calendar room", "calendar", p.Calendar.Name, "share_code", p.Calendar.ShareCode)
		if s.onJoined != nil {
			s.onJoined(p.Calendar)
		}
	default:
		log.Debug("ignoring room message", "type", env.Type)
	}
}

// eventPayload detects a missing id, which a plain Event would read as 0.
type eventPayload struct {
	ID *int64 `json:"id"`
	domain.Event
}

func decodeEvent(env domain.Envelope) (domain.Event, bool) {
	var p eventPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Warn("dropping malformed payload", "type", env.Type, "err", err)
		return domain.Event{}, false
	}
	if p.ID == nil {
		log.Warn("dropping payload without id", "type", env.Type)
		return domain.Event{}, false
	}
	e := p.Event
	e.ID = *p.ID
	if err := e.Validate(); err != nil {
		log.Warn("dropping invalid event", "type", env.Type, "event_id", e.ID, "err", err)
		return domain.Event{}, false
	}
	return e, true
}
