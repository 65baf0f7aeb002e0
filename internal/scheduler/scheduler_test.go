package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tazhate/familycal/config"
	"github.com/tazhate/familycal/internal/domain"
)

type fakePruner struct {
	before time.Time
	calls  int
}

func (p *fakePruner) PruneDeliveries(before time.Time) (int64, error) {
	p.calls++
	p.before = before
	return 3, nil
}

type dayEvents map[string][]domain.Event

func (d dayEvents) EventsOn(date time.Time) []domain.Event {
	return d[date.Format("2006-01-02")]
}

type capturingNotifier struct {
	sent []domain.Notification
}

func (c *capturingNotifier) Notify(ctx context.Context, n domain.Notification) {
	c.sent = append(c.sent, n)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timezone = time.UTC
	return cfg
}

func TestDailySpec(t *testing.T) {
	spec, err := dailySpec("07:30")
	if err != nil {
		t.Fatalf("dailySpec failed: %v", err)
	}
	if spec != "30 7 * * *" {
		t.Errorf("Expected '30 7 * * *', got %q", spec)
	}

	if _, err := dailySpec("7h30"); err == nil {
		t.Error("Expected error for invalid time")
	}
}

func TestPruneUsesRetention(t *testing.T) {
	cfg := testConfig()
	cfg.DeliveryRetention = 48 * time.Hour
	p := &fakePruner{}

	s := New(cfg, p, nil, nil)
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.pruneDeliveries()

	if p.calls != 1 {
		t.Fatalf("Expected 1 prune, got %d", p.calls)
	}
	if want := now.Add(-48 * time.Hour); !p.before.Equal(want) {
		t.Errorf("Expected cutoff %v, got %v", want, p.before)
	}
}

func TestMorningAgenda(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	events := dayEvents{"2025-03-10": {
		{ID: 1, Title: "School run", StartTime: start, EndTime: start.Add(30 * time.Minute)},
		{ID: 2, Title: "Holiday", AllDay: true, StartTime: start, EndTime: start.Add(time.Hour)},
	}}
	n := &capturingNotifier{}

	s := New(testConfig(), nil, events, n)
	s.now = func() time.Time { return time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC) }
	s.morningAgenda()

	if len(n.sent) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(n.sent))
	}
	got := n.sent[0]
	if got.Title != "Today: 2 events" {
		t.Errorf("Unexpected title %q", got.Title)
	}
	if got.CorrelationID != "agenda-2025-03-10" {
		t.Errorf("Unexpected correlation id %q", got.CorrelationID)
	}
	if !strings.Contains(got.Body, "09:30-10:00 School run") || !strings.Contains(got.Body, "All day Holiday") {
		t.Errorf("Unexpected body %q", got.Body)
	}
}

func TestMorningAgendaSkipsEmptyDay(t *testing.T) {
	n := &capturingNotifier{}
	s := New(testConfig(), nil, dayEvents{}, n)
	s.morningAgenda()

	if len(n.sent) != 0 {
		t.Errorf("Expected no notification, got %d", len(n.sent))
	}
}

func TestAgendaTruncates(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	var events []domain.Event
	for i := 0; i < agendaMaxLines+2; i++ {
		events = append(events, domain.Event{ID: int64(i + 1), Title: "E", StartTime: start, EndTime: start.Add(time.Hour)})
	}

	n := agenda(events, start, time.UTC)
	if !strings.HasSuffix(n.Body, "…and 2 more") {
		t.Errorf("Expected truncation marker, got %q", n.Body)
	}
}

func TestStartRejectsBadAgendaTime(t *testing.T) {
	cfg := testConfig()
	cfg.AgendaTime = "25:99"
	s := New(cfg, nil, dayEvents{}, &capturingNotifier{})

	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid agenda time")
	}
}
