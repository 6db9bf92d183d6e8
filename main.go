package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-bulk-gateway/config"
	"whatsapp-bulk-gateway/dispatch"
	"whatsapp-bulk-gateway/server"
	"whatsapp-bulk-gateway/utils"
	"whatsapp-bulk-gateway/whatsapp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		startupLog := zerolog.New(os.Stderr)
		startupLog.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	// The session store can be briefly locked by a previous instance shutting
	// down, so opening it is retried with backoff.
	var container *sqlstore.Container
	err = utils.WithRetry(func() error {
		var err error
		container, err = sqlstore.New(context.Background(), "sqlite", cfg.DBPath, waLog.Zerolog(log))
		return err
	}, utils.DefaultRetryConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer container.Close()

	manager := whatsapp.NewManager(whatsapp.NewClientFactory(container, log), log)

	reg := prometheus.NewRegistry()
	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.MinDelay = cfg.MinSendDelay
	dispatchCfg.MaxDelay = cfg.MaxSendDelay
	dispatchCfg.RateLimit = rate.Limit(cfg.SendRate)
	dispatcher := dispatch.New(manager, dispatchCfg, dispatch.NewMetrics(reg), log)
	defer dispatcher.Close()

	gateway := server.New(manager, dispatcher, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), log)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: gateway.Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	manager.Disconnect(ctx)
}
