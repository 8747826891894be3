/**
 * @description
 * Main entry point for the enrollment-service. It loads configuration, opens the
 * PostgreSQL pool, Redis and RabbitMQ connections, builds the checkout, reconciler,
 * access gate and progress services, starts the background jobs and the outbox
 * dispatcher, and serves the HTTP API until SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: access cache and checkout rate limiting.
 * - github.com/joho/godotenv: loads .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: service internals.
 * - pkg/paymentclient, pkg/rabbitmq: payment processor and broker clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/api"
	"github.com/annievinnie/E-learning-sub001/internal/app"
	"github.com/annievinnie/E-learning-sub001/internal/config"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/annievinnie/E-learning-sub001/pkg/paymentclient"
	rmrabbit "github.com/annievinnie/E-learning-sub001/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, using environment variables\"")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting enrollment-service\" port=%s", cfg.ServerPort)

	var repository store.Repository
	var outboxStore app.OutboxStore
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"DATABASE_URL not set; using in-memory repository\"")
		memory := store.NewMemoryRepository(cfg.EventsExchange)
		repository, outboxStore = memory, memory
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")

		postgres := store.NewPostgresRepository(dbpool, cfg.EventsExchange)
		repository, outboxStore = postgres, postgres
	}

	var accessCache app.AccessCache
	var checkoutLimiter app.CheckoutLimiter
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; access cache and checkout rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; access cache and checkout rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; access cache and checkout rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
				accessCache = app.NewRedisAccessCache(redisClient, cfg.RedisKeyPrefix, time.Duration(cfg.AccessCacheTTLSeconds)*time.Second)
				checkoutLimiter = app.NewRedisCheckoutLimiter(redisClient, cfg.RedisKeyPrefix, cfg.CheckoutRateLimitPerMinute, time.Minute)
			}
		}
	}

	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	paymentClient := paymentclient.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAPIKey)
	intentTTL := time.Duration(cfg.PaymentIntentTTLHours) * time.Hour

	checkoutService := app.NewCheckoutService(repository, paymentClient, checkoutLimiter, app.CheckoutConfig{
		SuccessURL:      cfg.CheckoutSuccessURL,
		CancelURL:       cfg.CheckoutCancelURL,
		DefaultCurrency: cfg.DefaultCurrency,
		IntentTTL:       intentTTL,
	})
	alerter := app.NewBrokerAlerter(publisher, cfg.AlertsExchange, logger)
	reconciler := app.NewReconciler(repository, cfg.PaymentWebhookSecret, alerter, logger)
	gate := app.NewAccessGate(repository, accessCache)
	jobs := app.NewJobs(repository, intentTTL, logger)

	handlers := api.NewHandlers(api.Services{
		Checkout:   checkoutService,
		Reconciler: reconciler,
		Gate:       gate,
		Progress:   app.NewProgressTracker(repository, gate, cfg.CompletionThreshold),
		Catalog:    app.NewCatalogService(repository, cfg.DefaultCurrency),
		Content:    app.NewStaticContentResolver(cfg.ContentBaseURL),
		Jobs:       jobs,
	})

	scheduler := app.NewScheduler(jobs, logger, cfg.IntentExpirySchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	// The dispatcher dials its own producer so outbox rows stay pending while the broker is down.
	go app.NewOutboxDispatcher(outboxStore, rmrabbit.Dialer(cfg.RabbitMQURL)).Run(workerCtx)

	// The broker relay is optional; the HTTP webhook remains the primary delivery path.
	if strings.TrimSpace(cfg.PaymentEventQueue) != "" {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; payment relay disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			paymentConsumer := app.NewPaymentEventConsumer(reconciler, logger)
			bindings := map[string]rmrabbit.Handler{
				app.RoutingKeyPaymentNotification: paymentConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.PaymentEventExchange, cfg.PaymentEventQueue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"payment consumer start failed\" err=%v", err)
			}
		}
	}

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: api.NewRouter(handlers, cfg.ClerkJWKSURL, cfg.InternalAPIKey, cfg.CORSAllowedOrigins),
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	stopWorkers()
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
