// Package notify delivers reminders to the user over one or more channels.
package notify

import (
	"context"
	"fmt"

	"github.com/tazhate/familycal/config"
	"github.com/tazhate/familycal/internal/domain"
	"github.com/tazhate/familycal/internal/log"
)

// Channel is one way of reaching the user.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification) error
}

// Sink tries every channel in order. A failing channel is logged and the
// next one is still tried; Notify itself never fails.
type Sink struct {
	channels []Channel
}

func NewSink(channels ...Channel) *Sink {
	return &Sink{channels: channels}
}

func (s *Sink) Notify(ctx context.Context, n domain.Notification) {
	if len(s.channels) == 0 {
		log.Warn("no notification channel configured", "correlation_id", n.CorrelationID)
		return
	}

	delivered := 0
	for _, ch := range s.channels {
		if err := safeDeliver(ctx, ch, n); err != nil {
			log.Error("notification channel failed", err, "channel", ch.Name(), "correlation_id", n.CorrelationID)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		log.Warn("reminder not delivered on any channel", "correlation_id", n.CorrelationID)
	}
}

// Channels returns the configured channel names in delivery order.
func (s *Sink) Channels() []string {
	names := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		names = append(names, ch.Name())
	}
	return names
}

// safeDeliver turns a panicking channel into an error.
func safeDeliver(ctx context.Context, ch Channel, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	return ch.Deliver(ctx, n)
}

// Options selects the channels built by FromConfig.
type Options struct {
	// System is the system-level channel; nil when unavailable.
	System Channel
	// InApp is the in-app banner board.
	InApp Channel
	// Audible is the sound cue.
	Audible Channel
}

// FromConfig builds a sink honoring notify_channel and notify_sound.
// Order is system, in-app, audible.
func FromConfig(cfg *config.Config, opts Options) *Sink {
	var channels []Channel

	wantSystem := cfg.NotifyChannel == config.ChannelSystem || cfg.NotifyChannel == config.ChannelBoth
	wantInApp := cfg.NotifyChannel == config.ChannelInApp || cfg.NotifyChannel == config.ChannelBoth

	if wantSystem {
		if opts.System != nil {
			channels = append(channels, opts.System)
		} else {
			log.Warn("system notifications requested but not configured")
		}
	}
	if wantInApp && opts.InApp != nil {
		channels = append(channels, opts.InApp)
	}
	if cfg.NotifySound && opts.Audible != nil {
		channels = append(channels, opts.Audible)
	}

	return NewSink(channels...)
}
