package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/familycal/config"
	"github.com/tazhate/familycal/internal/agent"
	"github.com/tazhate/familycal/internal/bot"
	"github.com/tazhate/familycal/internal/clients/calapi"
	"github.com/tazhate/familycal/internal/eventstore"
	"github.com/tazhate/familycal/internal/log"
	"github.com/tazhate/familycal/internal/notify"
	"github.com/tazhate/familycal/internal/reminder"
	"github.com/tazhate/familycal/internal/room"
	"github.com/tazhate/familycal/internal/scheduler"
	"github.com/tazhate/familycal/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", err)
		os.Exit(1)
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	// Delivery ledger, so a restart does not repeat reminders.
	ledger, err := storage.New(cfg.AgentDatabasePath)
	if err != nil {
		log.Error("failed to init storage", err, "path", cfg.AgentDatabasePath)
		os.Exit(1)
	}
	defer ledger.Close()

	// Notification channels
	board := notify.NewBannerBoard(0)
	opts := notify.Options{
		InApp:   board,
		Audible: notify.NewBellChannel(os.Stdout),
	}
	var tgAPI *tgbotapi.BotAPI
	if cfg.TelegramEnabled() {
		api, tg, err := notify.DialTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error("telegram unavailable, continuing without system notifications", err)
		} else {
			tgAPI = api
			opts.System = tg
		}
	}
	sink := notify.FromConfig(cfg, opts)

	var banners *notify.BannerBoard
	if cfg.NotifyChannel != config.ChannelSystem {
		banners = board
	}

	reminders := reminder.New(sink,
		reminder.WithInterval(cfg.PollInterval),
		reminder.WithLedger(ledger),
		reminder.WithLocation(cfg.Timezone),
	)
	store := eventstore.New(cfg.Timezone, eventstore.WithObserver(reminders))

	wsURL, err := room.WSURL(cfg.ServerURL)
	if err != nil {
		log.Error("invalid server url", err, "url", cfg.ServerURL)
		os.Exit(1)
	}
	dial := func(ctx context.Context) (room.Transport, error) {
		return room.DialWS(ctx, wsURL)
	}
	session := agent.NewSession(calapi.NewClient(cfg.ServerURL), dial, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ShareCode != "" {
		if _, err := session.Open(ctx, cfg.ShareCode); err != nil {
			log.Error("failed to open calendar", err, "share_code", cfg.ShareCode)
		}
	} else {
		log.Warn("no SHARE_CODE configured, waiting without a calendar")
	}

	stopReminders := reminders.Start()

	daily := scheduler.New(cfg, ledger, store, sink)
	go func() {
		if err := daily.Start(ctx); err != nil {
			log.Error("scheduler error", err)
		}
	}()

	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("room connection error", err)
		}
	}()

	// Chat commands share the notification bot
	if tgAPI != nil {
		commands := bot.New(tgAPI, cfg.TelegramChatID, session, store, reminders, cfg.Timezone)
		commands.SetCommands()

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := tgAPI.GetUpdatesChan(u)
		go func() {
			if err := commands.Start(ctx, updates); err != nil {
				log.Error("telegram bot error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.AgentListenAddr,
		Handler:           agent.NewStatusServer(session, reminders, banners, sink),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server error", err)
		}
	}()

	log.Info("familycal agent started", "server", cfg.ServerURL, "status_addr", cfg.AgentListenAddr, "channels", sink.Channels())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	cancel()
	if tgAPI != nil {
		tgAPI.StopReceivingUpdates()
	}
	stopReminders()
	daily.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping status server", err)
	}

	log.Info("familycal agent stopped")
}
