package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dikkadev/prettyslog"
	"github.com/morrildl/providence/internal/api"
	"github.com/morrildl/providence/internal/config"
	"github.com/morrildl/providence/internal/db"
	"github.com/morrildl/providence/internal/ingest"
	"github.com/morrildl/providence/internal/notify"
	"github.com/morrildl/providence/internal/relay"
	"github.com/morrildl/providence/pkg/exchange"
)

func main() {
	configFile := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Loading config failed", "err", err)
		os.Exit(1)
	}

	logger := prettyslog.NewPrettyslogHandler("providence", prettyslog.WithLevel(cfg.SlogLevel()))
	slog.SetDefault(slog.New(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := db.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		return err
	}

	dispatcher := notify.Multi{notify.Log{}}
	if cfg.Notify.Pushbullet.Token != "" {
		dispatcher = append(dispatcher, notify.NewPushbullet(cfg.Notify.Pushbullet.Token, cfg.Notify.Pushbullet.BaseURL, nil))
	}

	pipeline := ingest.New(store, dispatcher, ingest.Config{
		MotionThreshold: cfg.Motion.Threshold,
		Retention:       cfg.Retention,
		Action:          cfg.Notify.Action,
	})

	if cfg.Exchange.InputDir != "" {
		handler, err := exchange.NewHandler(cfg.Exchange.InputDir, cfg.Exchange.ErrorDir, pipeline)
		if err != nil {
			return err
		}
		if err := handler.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.MQTT.Broker != "" {
		r := relay.New(relay.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, pipeline)
		if err := r.Start(ctx); err != nil {
			return err
		}
		defer r.Close()
	}

	slog.Info("Providence client running", "threshold", cfg.Motion.Threshold, "retention", cfg.Retention)

	if cfg.HTTP.Addr != "" {
		return api.New(api.Config{Ingest: pipeline, History: store}).Serve(ctx, cfg.HTTP.Addr)
	}
	<-ctx.Done()
	return nil
}
