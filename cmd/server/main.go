package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tazhate/familycal/config"
	"github.com/tazhate/familycal/internal/api"
	"github.com/tazhate/familycal/internal/clients/caldav"
	"github.com/tazhate/familycal/internal/hub"
	"github.com/tazhate/familycal/internal/log"
	"github.com/tazhate/familycal/internal/service"
	"github.com/tazhate/familycal/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", err)
		os.Exit(1)
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to init storage", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()

	calendarSvc := service.NewCalendarService(store, cfg.Timezone)
	rooms := hub.New(calendarSvc)
	calendarSvc.SetBroadcaster(rooms)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CalDAVEnabled() {
		mirror := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar, cfg.Timezone)
		calendarSvc.SetMirror(mirror)
		log.Info("caldav mirror enabled", "calendar", mirror.CalendarPath())
	} else if cfg.CalDAVUsername != "" && cfg.CalDAVPassword != "" {
		// Credentials without a collection: list what is there to pick from.
		client := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, "", cfg.Timezone)
		discoverCtx, discoverCancel := context.WithTimeout(ctx, 30*time.Second)
		cals, err := client.DiscoverCalendars(discoverCtx)
		discoverCancel()
		if err != nil {
			log.Error("caldav discovery failed", err)
		}
		for _, c := range cals {
			log.Info("caldav calendar available, set CALDAV_CALENDAR to use it", "path", c.Path, "name", c.DisplayName)
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(calendarSvc, rooms),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", err)
			cancel()
		}
	}()

	log.Info("familycal server started", "addr", cfg.ListenAddr, "tz", cfg.TimezoneName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping http server", err)
	}
	rooms.Close()

	log.Info("familycal server stopped")
}
