package hub_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/hub"
	"github.com/tazhate/familycal/internal/room"
)

type stubResolver struct {
	calendars map[string]domain.Calendar
}

func (r stubResolver) Join(code string) (*domain.Calendar, error) {
	c, ok := r.calendars[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func newTestHub(t *testing.T) (*hub.Hub, string) {
	t.Helper()
	h := hub.New(stubResolver{calendars: map[string]domain.Calendar{
		"FAMILY01": {ID: 1, Name: "Family", ShareCode: "FAMILY01"},
	}})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})

	u, err := room.WSURL(srv.URL)
	if err != nil {
		t.Fatalf("WSURL failed: %v", err)
	}
	return h, u
}

func dial(t *testing.T, url string) *room.WSTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := room.DialWS(ctx, url)
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func send(t *testing.T, tr *room.WSTransport, typ domain.MessageType, code string) {
	t.Helper()
	env, _ := domain.NewEnvelope(typ, domain.RoomRequest{ShareCode: code})
	if err := tr.Send(context.Background(), env); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func receive(t *testing.T, tr *room.WSTransport) domain.Envelope {
	t.Helper()
	type result struct {
		env domain.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := tr.Receive(context.Background())
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Receive failed: %v", r.err)
		}
		return r.env
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	return domain.Envelope{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestJoinRepliesWithCalendar(t *testing.T) {
	h, url := newTestHub(t)
	tr := dial(t, url)

	send(t, tr, domain.MsgJoinCalendar, " family01 ")
	env := receive(t, tr)

	if env.Type != domain.MsgJoinedCalendar {
		t.Fatalf("Expected joined_calendar, got %s", env.Type)
	}
	var payload domain.JoinedCalendar
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.Calendar.ShareCode != "FAMILY01" {
		t.Errorf("Expected FAMILY01, got %s", payload.Calendar.ShareCode)
	}
	if n := h.RoomSize("FAMILY01"); n != 1 {
		t.Errorf("Expected 1 client in room, got %d", n)
	}
}

func TestBroadcastReachesRoomMembersOnly(t *testing.T) {
	h, url := newTestHub(t)
	member := dial(t, url)
	outsider := dial(t, url)

	send(t, member, domain.MsgJoinCalendar, "FAMILY01")
	receive(t, member)
	send(t, outsider, domain.MsgJoinCalendar, "UNKNOWN0")
	waitFor(t, func() bool { return h.Clients() == 2 })

	env, _ := domain.NewEnvelope(domain.MsgEventDeleted, domain.EventDeleted{EventID: 7})
	h.Broadcast("family01", env)

	got := receive(t, member)
	if got.Type != domain.MsgEventDeleted {
		t.Fatalf("Expected event_deleted, got %s", got.Type)
	}
	var payload domain.EventDeleted
	json.Unmarshal(got.Data, &payload)
	if payload.EventID != 7 {
		t.Errorf("Expected event_id 7, got %d", payload.EventID)
	}

	if n := h.RoomSize("UNKNOWN0"); n != 0 {
		t.Errorf("Expected unknown room to stay empty, got %d", n)
	}
}

func TestLeaveAndDisconnectEmptyRoom(t *testing.T) {
	h, url := newTestHub(t)
	a := dial(t, url)
	b := dial(t, url)

	send(t, a, domain.MsgJoinCalendar, "FAMILY01")
	receive(t, a)
	send(t, b, domain.MsgJoinCalendar, "FAMILY01")
	receive(t, b)

	send(t, a, domain.MsgLeaveCalendar, "FAMILY01")
	waitFor(t, func() bool { return h.RoomSize("FAMILY01") == 1 })

	b.Close()
	waitFor(t, func() bool { return h.RoomSize("FAMILY01") == 0 })
	waitFor(t, func() bool { return h.Clients() == 1 })
}
