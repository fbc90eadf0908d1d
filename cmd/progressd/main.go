// Command progressd runs the progress and streak tracking engine.
//
// Usage:
//
//	progressd                 serve HTTP, consume completions, publish snapshots
//	progressd token [flags]   print a signed bearer token for local testing
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"example.com/progress/internal/api"
	"example.com/progress/internal/auth"
	"example.com/progress/internal/config"
	"example.com/progress/internal/consumer"
	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
	"example.com/progress/internal/observability"
	"example.com/progress/internal/progress"
	"example.com/progress/internal/publish"
	"example.com/progress/internal/scheduler"
	"example.com/progress/internal/store"
	httptransport "example.com/progress/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatalf("token: %v", err)
		}
		return
	}

	if err := serve(cfg); err != nil {
		log.Fatalf("progressd: %v", err)
	}
}

func issueToken(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "local-user", "token subject")
	scopes := fs.String("scopes", auth.ScopeProgressRead+","+auth.ScopeProgressWrite, "comma-separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := auth.Issue(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer}, *subject, strings.Split(*scopes, ","), *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func serve(cfg config.Config) error {
	logger := log.New(os.Stdout, "[progressd] ", log.LstdFlags|log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	backend, err := store.Open(ctx, store.Config{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
		PostgresDSN:   cfg.Store.PostgresURL,
	})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer backend.Close()
	logger.Printf("using %s store", cfg.Store.Driver)

	bus := events.NewBus(events.WithBusLogger(log.New(os.Stdout, "[bus] ", log.LstdFlags|log.Lshortfile)))

	windows := cfg.Tracker.CoverageWindows
	tracker, err := progress.New(backend, bus,
		progress.WithLogger(log.New(os.Stdout, "[tracker] ", log.LstdFlags|log.Lshortfile)),
		progress.WithCalendar(domain.NewCalendar(loc)),
		progress.WithCoverageWindows(windows[0], windows[1:]...),
		progress.WithWellnessStep(cfg.Tracker.WellnessStep),
		progress.WithRetentionDays(cfg.Tracker.RetentionDays),
		progress.WithSaveTimeout(cfg.Tracker.SaveTimeout),
		progress.WithQueueSize(cfg.Tracker.QueueSize),
	)
	if err != nil {
		return err
	}

	rollover, err := scheduler.NewRollover(tracker, loc,
		scheduler.WithSpec(cfg.Scheduler.RolloverSpec),
		scheduler.WithLogger(log.New(os.Stdout, "[rollover] ", log.LstdFlags|log.Lshortfile)),
	)
	if err != nil {
		return err
	}

	// The tracker outlives the ingress goroutines so events already on the
	// bus are applied before it stops.
	trackerCtx, stopTracker := context.WithCancel(context.Background())
	defer stopTracker()
	trackerDone := make(chan error, 1)
	go func() { trackerDone <- tracker.Run(trackerCtx) }()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("%s stopped with error: %v", name, err)
				stop()
			}
		}()
	}

	spawn("rollover", rollover.Run)

	var publisher *publish.SnapshotPublisher
	if cfg.Kafka.Enabled() {
		if cfg.Kafka.CompletionsTopic != "" {
			reader, err := consumer.NewKafkaReader(consumer.ReaderConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.CompletionsTopic,
				GroupID: cfg.Kafka.ConsumerGroup,
			})
			if err != nil {
				return err
			}
			defer reader.Close()
			bridge := consumer.NewBridge(reader, bus,
				consumer.WithLogger(log.New(os.Stdout, "[kafka-bridge] ", log.LstdFlags|log.Lshortfile)),
			)
			logger.Printf("consuming completions (topic=%s, group=%s)", cfg.Kafka.CompletionsTopic, cfg.Kafka.ConsumerGroup)
			spawn("kafka bridge", bridge.Run)
		}

		if cfg.Kafka.SnapshotsTopic != "" {
			writer := publish.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.SnapshotsTopic, cfg.Kafka.WriteTimeout)
			defer writer.Close()

			var registry publish.SchemaRegistry = publish.StaticSchema(0)
			if cfg.Kafka.SchemaRegistryURL != "" {
				registry = publish.NewSchemaRegistryClient(cfg.Kafka.SchemaRegistryURL)
			}
			publisher = publish.NewSnapshotPublisher(writer, registry, cfg.Kafka.SnapshotsTopic,
				publish.WithWriteTimeout(cfg.Kafka.WriteTimeout),
			)
			cancelObserve := tracker.Observe(publisher.Observe)
			defer cancelObserve()
			logger.Printf("publishing snapshots to %s", cfg.Kafka.SnapshotsTopic)
		}
	}

	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		if publisher != nil {
			_ = publisher.Run(publisherCtx)
		}
	}()

	handler := api.NewHandler(tracker, bus)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", observability.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer}, auth.PublicPaths)
	httpLogger := log.New(os.Stdout, "[http] ", log.LstdFlags)
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.LogRequests(httpLogger, authMiddleware.Wrap(mux)))

	spawn("http server", func(ctx context.Context) error {
		return httptransport.Run(ctx, server, cfg.HTTP.ShutdownTimeout, httpLogger)
	})

	select {
	case <-ctx.Done():
	case err := <-trackerDone:
		stop()
		wg.Wait()
		return fmt.Errorf("tracker exited early: %w", err)
	}
	logger.Println("shutdown requested")
	wg.Wait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelDrain()
	if err := bus.Close(drainCtx); err != nil {
		logger.Printf("bus drain interrupted: %v", err)
	}

	stopTracker()
	if err := <-trackerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("tracker stopped with error: %v", err)
	}

	stopPublisher()
	<-publisherDone

	logger.Println("shutdown complete")
	return nil
}
