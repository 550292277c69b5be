package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/clock"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	"github.com/ariefcatur/go-storefront-orders/internal/invoice"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.BrevoAPIKey == "" {
		return errors.New("BREVO_API_KEY: required")
	}

	service := cfg.ServiceName + "-notifier"
	log, err := logging.New(cfg.LogLevel, service)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &notify.Service{
		Mailer:    notify.NewBrevoMailer(cfg.BrevoAPIURL, cfg.BrevoAPIKey, notify.Sender{Name: cfg.MailSenderName, Email: cfg.MailSenderEmail}),
		Records:   postgres.NewStore(db),
		Invoices:  invoice.NewRenderer(cfg.StoreName, cfg.StoreContact),
		Dedup:     redisx.NewDedup(rdb, service),
		Observer:  metrics.NewNotifyMetrics(reg),
		Clock:     clock.NewSystem(),
		Log:       log,
		StoreName: cfg.StoreName,
	}

	// healthz + metrics
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(log, metrics.NewServerMetrics(reg, "notifier"), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listen", zap.Error(err))
		}
	}()

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.NotificationTopics, cfg.NotifierWorkers, log)
	errc := make(chan error, 1)
	go func() {
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", orders.NotificationTopics),
			zap.Int("workers", cfg.NotifierWorkers))
		errc <- cons.Start(ctx, svc.HandleMessage)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down consumer", zap.String("signal", s.String()))
		cancel()
		err = <-errc
	case err = <-errc:
		log.Error("consumer exit", zap.Error(err))
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	return err
}
