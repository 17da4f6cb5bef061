package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"teamsync-server/internal/hub"
	"teamsync-server/internal/notify"
	"teamsync-server/internal/realtime"
	"teamsync-server/internal/server"
	"teamsync-server/internal/store"
	"teamsync-server/internal/syncer"
)

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(a.cfg.GinMode)

	st, err := store.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var (
		bus   *realtime.Bus
		queue notify.Enqueuer
	)
	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		bus, err = realtime.NewRedisBus(ctx, client, a.cfg.EventsStream)
		if err != nil {
			return err
		}
		asynqClient, err := notify.NewAsynqClient(a.cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = asynqClient.Close() }()
		queue = asynqClient
		log.Info().Str("stream", a.cfg.EventsStream).Msg("using redis for events and push queue")
	} else {
		bus = realtime.NewLocalBus(a.cfg.EventsStream)
	}
	defer func() { _ = bus.Close() }()

	wsHub := hub.New()
	svc := syncer.NewService(st, syncer.Options{
		Events:             bus,
		Notifier:           notify.NewDispatcher(st, queue, nil),
		RecentMessageLimit: a.cfg.BootstrapMessageLimit,
	})
	router := server.NewRouter(server.Deps{
		Sync:             svc,
		Hub:              wsHub,
		Store:            st,
		TokenConfig:      a.tokenConfig(),
		SyncRateLimit:    a.cfg.SyncRateLimit,
		CORSAllowOrigins: a.cfg.CORSAllowOrigins,
	})

	return server.Run(ctx, a.cfg, router, func(ctx context.Context) error {
		return bus.Run(ctx, realtime.HubDeliverer{Hub: wsHub})
	})
}
