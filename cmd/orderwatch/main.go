package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderwatch/internal/api"
	"orderwatch/internal/client"
	"orderwatch/internal/config"
	"orderwatch/internal/logging"
	"orderwatch/internal/metrics"
	"orderwatch/internal/notify"
	"orderwatch/internal/push"
	"orderwatch/internal/push/amqpstream"
	"orderwatch/internal/push/kafkastream"
	"orderwatch/internal/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure logging:", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("orderwatch stopped")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	source, err := newSource(cfg.Push, logging.Component(log, "push"))
	if err != nil {
		return err
	}

	backend := client.New(cfg.API.BaseURL, cfg.API.RequestTimeout(), logging.Component(log, "client"))
	hub := notify.NewHub()

	session := reconciler.New(reconciler.Config{
		API:                  backend,
		Source:               source,
		Sink:                 notify.Multi{hub, notify.NewLogSink(logging.Component(log, "notify"))},
		Metrics:              metrics.NewSessionMetrics(reg),
		Log:                  logging.Component(log, "session"),
		RefreshAfterMutation: cfg.Session.RefreshAfterMutation,
	})
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		// Stale-but-visible: keep serving, the error is in the session state.
		log.WithError(err).Warn("initial order snapshot failed")
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		Orders:   session,
		Webhook:  backend,
		Hub:      hub,
		Gatherer: reg,
		Metrics:  metrics.NewServerMetrics(reg),
		Log:      logging.Component(log, "http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Ends long-lived notification streams on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.WithFields(logrus.Fields{
		"action":    logging.ActionServiceStarted,
		"addr":      cfg.HTTP.Addr,
		"api":       cfg.API.BaseURL,
		"transport": cfg.Push.Transport,
	}).Info("orderwatch started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.WithField("action", logging.ActionGracefulShutdown).Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newSource(cfg config.PushConfig, log *logrus.Entry) (push.Source, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		return kafkastream.New(kafkastream.Config{
			Brokers:        kafkastream.ParseBrokers(cfg.Kafka.Brokers),
			Topic:          cfg.Kafka.Topic,
			HealthInterval: cfg.Kafka.LinkCheckInterval(),
		}, log)
	case config.TransportAMQP:
		return amqpstream.New(amqpstream.Config{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
		}, log)
	default:
		// No broker: an idle in-process feed keeps the session shape the same.
		return push.NewFeed(), nil
	}
}
