package room_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/eventstore"
	"github.com/tazhate/familycal/internal/mocks"
	"github.com/tazhate/familycal/internal/reminder"
	"github.com/tazhate/familycal/internal/room"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store     *eventstore.Store
	scheduler *reminder.Scheduler
	notifier  *mocks.MockNotifier
	transport *mocks.MockTransport
	sync      *room.Synchronizer
	clock     *fixedClock
}

func newHarness(t *testing.T, opts ...room.Option) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		notifier:  mocks.NewMockNotifier(ctrl),
		transport: mocks.NewMockTransport(ctrl),
		clock:     &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.scheduler = reminder.New(h.notifier, reminder.WithClock(h.clock), reminder.WithLocation(time.UTC))
	h.store = eventstore.New(time.UTC, eventstore.WithObserver(h.scheduler))
	h.sync = room.NewSynchronizer(h.transport, h.store, opts...)
	return h
}

func envelope(t *testing.T, typ domain.MessageType, data any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(typ, data)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func rawEnvelope(typ domain.MessageType, raw string) domain.Envelope {
	return domain.Envelope{Type: typ, Data: json.RawMessage(raw)}
}

func (h *harness) event(id int64, startIn time.Duration, minutes int) domain.Event {
	start := h.clock.Now().Add(startIn)
	return domain.Event{
		ID:              id,
		CalendarID:      1,
		Title:           "Standup",
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		ReminderMinutes: minutes,
	}
}

func TestCreatedMessageAddsEventAndReminder(t *testing.T) {
	h := newHarness(t)
	e := h.event(1, time.Hour, 15)

	h.sync.Handle(envelope(t, domain.MsgEventCreated, e))
	// At-least-once delivery: the duplicate is ignored.
	h.sync.Handle(envelope(t, domain.MsgEventCreated, e))

	if h.store.Len() != 1 {
		t.Errorf("Expected 1 event, got %d", h.store.Len())
	}
	if h.scheduler.Len() != 1 {
		t.Errorf("Expected 1 reminder, got %d", h.scheduler.Len())
	}
}

func TestUpdatedMessageResetsReminder(t *testing.T) {
	h := newHarness(t)
	e := h.event(2, 20*time.Minute, 15)
	h.store.SetEvents([]domain.Event{e})

	before, ok := h.scheduler.Reminder(2)
	if !ok || before.State != domain.ReminderPending {
		t.Fatalf("Expected pending reminder, got %+v (ok=%v)", before, ok)
	}

	later := e
	later.StartTime = e.StartTime.Add(time.Hour)
	later.EndTime = later.StartTime.Add(30 * time.Minute)
	h.sync.Handle(envelope(t, domain.MsgEventUpdated, later))

	after, ok := h.scheduler.Reminder(2)
	if !ok {
		t.Fatal("Expected reminder after update")
	}
	if !after.FireTime.Equal(later.StartTime.Add(-15 * time.Minute)) {
		t.Errorf("Expected fire time %v, got %v", later.StartTime.Add(-15*time.Minute), after.FireTime)
	}
	if after.Notified() {
		t.Error("Expected notified to be reset")
	}
	if got, _ := h.store.Get(2); !got.StartTime.Equal(later.StartTime) {
		t.Errorf("Expected store to hold updated start, got %v", got.StartTime)
	}
}

func TestDeletedMessageRemovesNotifiedReminder(t *testing.T) {
	h := newHarness(t)
	h.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	e := h.event(3, 5*time.Minute, 10)
	h.store.SetEvents([]domain.Event{e})
	h.scheduler.CheckReminders()

	if r, _ := h.scheduler.Reminder(3); !r.Notified() {
		t.Fatal("Expected reminder to be notified")
	}

	h.sync.Handle(envelope(t, domain.MsgEventDeleted, domain.EventDeleted{EventID: 3}))

	if _, ok := h.scheduler.Reminder(3); ok {
		t.Error("Expected reminder to be removed immediately")
	}
	if h.store.Len() != 0 {
		t.Errorf("Expected empty store, got %d", h.store.Len())
	}

	h.clock.Advance(10 * time.Minute)
	h.scheduler.CheckReminders()
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.store.SetEvents([]domain.Event{h.event(4, time.Hour, 0)})

	cases := []domain.Envelope{
		rawEnvelope(domain.MsgEventCreated, `{"title":"no id","start_time":"2025-06-01T13:00:00Z","end_time":"2025-06-01T14:00:00Z"}`),
		rawEnvelope(domain.MsgEventCreated, `not json`),
		rawEnvelope(domain.MsgEventCreated, `{"id":9,"title":"","start_time":"2025-06-01T13:00:00Z","end_time":"2025-06-01T14:00:00Z"}`),
		rawEnvelope(domain.MsgEventUpdated, `{"title":"no id"}`),
		rawEnvelope(domain.MsgEventDeleted, `{}`),
		rawEnvelope(domain.MsgEventDeleted, `{"event_id":"four"}`),
		rawEnvelope(domain.MsgJoinedCalendar, `[]`),
		rawEnvelope("something_else", `{}`),
	}
	for _, env := range cases {
		h.sync.Handle(env)
	}

	if h.store.Len() != 1 {
		t.Errorf("Expected store untouched with 1 event, got %d", h.store.Len())
	}
}

func TestJoinedCalendarCallsHandler(t *testing.T) {
	var joined domain.Calendar
	h := newHarness(t, room.WithJoinedHandler(func(c domain.Calendar) { joined = c }))

	h.sync.Handle(envelope(t, domain.MsgJoinedCalendar, domain.JoinedCalendar{
		Calendar: domain.Calendar{ID: 1, Name: "Family", ShareCode: "ABCD1234"},
	}))

	if joined.ShareCode != "ABCD1234" {
		t.Errorf("Expected joined share code ABCD1234, got %q", joined.ShareCode)
	}
	if h.store.Len() != 0 {
		t.Errorf("Expected no store mutation, got %d events", h.store.Len())
	}
}

func TestJoinSendsNormalizedCodeAndSwallowsErrors(t *testing.T) {
	h := newHarness(t)

	var sent domain.Envelope
	h.transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, env domain.Envelope) error {
			sent = env
			return errors.New("not connected")
		}).Times(1)

	h.sync.Join(context.Background(), "  abcd1234 ")

	if sent.Type != domain.MsgJoinCalendar {
		t.Fatalf("Expected join_calendar, got %s", sent.Type)
	}
	var req domain.RoomRequest
	if err := json.Unmarshal(sent.Data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.ShareCode != "ABCD1234" {
		t.Errorf("Expected ABCD1234, got %q", req.ShareCode)
	}
}

func TestJoinWithEmptyCodeSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.transport.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)
	h.sync.Join(context.Background(), "   ")
}

func TestRunAppliesMessagesUntilTransportFails(t *testing.T) {
	h := newHarness(t)
	e := h.event(6, time.Hour, 15)

	gomock.InOrder(
		h.transport.EXPECT().Receive(gomock.Any()).Return(envelope(t, domain.MsgEventCreated, e), nil),
		h.transport.EXPECT().Receive(gomock.Any()).Return(domain.Envelope{}, &room.PayloadError{Err: errors.New("bad json")}),
		h.transport.EXPECT().Receive(gomock.Any()).Return(envelope(t, domain.MsgEventDeleted, domain.EventDeleted{EventID: 6}), nil),
		h.transport.EXPECT().Receive(gomock.Any()).Return(domain.Envelope{}, io.EOF),
	)
	h.transport.EXPECT().Close().Return(nil).AnyTimes()

	err := h.sync.Run(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF from Run, got %v", err)
	}
	if h.store.Len() != 0 {
		t.Errorf("Expected event created then deleted, got %d events", h.store.Len())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	closed := make(chan struct{})
	h.transport.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	}).Times(1)
	h.transport.EXPECT().Receive(gomock.Any()).DoAndReturn(func(context.Context) (domain.Envelope, error) {
		<-closed
		return domain.Envelope{}, io.ErrClosedPipe
	}).Times(1)

	go cancel()
	if err := h.sync.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWSURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":    "ws://localhost:8080/ws",
		"https://cal.example.org/": "wss://cal.example.org/ws",
		"http://host/prefix":       "ws://host/prefix/ws",
	}
	for in, want := range tests {
		got, err := room.WSURL(in)
		if err != nil {
			t.Errorf("WSURL(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("WSURL(%q): expected %s, got %s", in, want, got)
		}
	}
	if _, err := room.WSURL("ftp://x"); err == nil {
		t.Error("Expected error for ftp scheme")
	}
}
