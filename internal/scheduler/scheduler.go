// Package scheduler runs the agent's daily cron jobs: the morning agenda
// and pruning of old reminder delivery records.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/familycal/config"
	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

const (
	pruneSpec      = "0 3 * * *"
	agendaMaxLines = 10
)

// Pruner drops delivery records older than a cutoff. *storage.Storage satisfies it.
type Pruner interface {
	PruneDeliveries(before time.Time) (int64, error)
}

// EventSource lists the open calendar's events of one day. *eventstore.Store satisfies it.
type EventSource interface {
	EventsOn(date time.Time) []domain.Event
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

type Scheduler struct {
	cron     *cron.Cron
	cfg      *config.Config
	pruner   Pruner
	events   EventSource
	notifier Notifier
	now      func() time.Time
}

func New(cfg *config.Config, pruner Pruner, events EventSource, notifier Notifier) *Scheduler {
	location := cfg.Timezone
	if location == nil {
		location = time.UTC
	}

	c := cron.New(cron.WithLocation(location))

	return &Scheduler{
		cron:     c,
		cfg:      cfg,
		pruner:   pruner,
		events:   events,
		notifier: notifier,
		now:      time.Now,
	}
}

// Start registers the jobs and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	// Housekeeping
	if s.pruner != nil {
		if _, err := s.cron.AddFunc(pruneSpec, s.pruneDeliveries); err != nil {
			return fmt.Errorf("add delivery pruning: %w", err)
		}
	}

	// Morning agenda
	if s.cfg.AgendaTime != "" && s.events != nil && s.notifier != nil {
		spec, err := dailySpec(s.cfg.AgendaTime)
		if err != nil {
			return err
		}
		if _, err := s.cron.AddFunc(spec, s.morningAgenda); err != nil {
			return fmt.Errorf("add morning agenda: %w", err)
		}
	}

	s.cron.Start()
	log.Info("scheduler started", "tz", s.cfg.TimezoneName, "agenda", s.cfg.AgendaTime)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("scheduler stopped")
}

func (s *Scheduler) pruneDeliveries() {
	cutoff := s.now().Add(-s.cfg.DeliveryRetention)
	n, err := s.pruner.PruneDeliveries(cutoff)
	if err != nil {
		log.Error("prune reminder deliveries", err)
		return
	}
	if n > 0 {
		log.Info("pruned reminder deliveries", "count", n, "before", cutoff.Format(time.RFC3339))
	}
}

func (s *Scheduler) morningAgenda() {
	loc := s.cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	today := s.now().In(loc)
	date := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	events := s.events.EventsOn(date)
	if len(events) == 0 {
		log.Debug("no events today, skipping agenda")
		return
	}
	s.notifier.Notify(context.Background(), agenda(events, date, loc))
}

// agenda summarizes a day's events. The correlation id is per day, so a
// repeated run replaces the earlier message.
func agenda(events []domain.Event, date time.Time, loc *time.Location) domain.Notification {
	var sb strings.Builder
	for i, e := range events {
		if i == agendaMaxLines {
			fmt.Fprintf(&sb, "…and %d more", len(events)-agendaMaxLines)
			break
		}
		fmt.Fprintf(&sb, "%s %s\n", e.FormatTime(loc), e.Title)
	}

	title := fmt.Sprintf("Today: %d event", len(events))
	if len(events) != 1 {
		title += "s"
	}
	return domain.Notification{
		Title:         title,
		Body:          strings.TrimRight(sb.String(), "\n"),
		CorrelationID: "agenda-" + date.Format("2006-01-02"),
	}
}

// dailySpec turns "HH:MM" into a cron spec.
func dailySpec(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("invalid agenda time %q (want HH:MM)", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
