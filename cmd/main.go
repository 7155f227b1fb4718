package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/homecooks/mealmarket/internal/audit"
	"github.com/homecooks/mealmarket/internal/availability"
	"github.com/homecooks/mealmarket/internal/cache"
	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/config"
	"github.com/homecooks/mealmarket/internal/db"
	"github.com/homecooks/mealmarket/internal/kafka"
	"github.com/homecooks/mealmarket/internal/location"
	"github.com/homecooks/mealmarket/internal/metrics"
	"github.com/homecooks/mealmarket/internal/middleware"
	"github.com/homecooks/mealmarket/internal/orders"
	taskprocessor "github.com/homecooks/mealmarket/internal/processor"
	"github.com/homecooks/mealmarket/internal/repository"
	"github.com/homecooks/mealmarket/internal/server"
	"github.com/homecooks/mealmarket/internal/service"
	"github.com/homecooks/mealmarket/migrations"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func run() error {
	cfg := config.LoadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, database, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable, stored locations will be unknown: %v", err)
	}
	locations := location.NewRedisProvider(rdb, cfg.LocationTTL)

	m := metrics.New()

	processors := []audit.AuditLogProcessor{&audit.LogProcessor{Filter: cfg.AuditFilter}}
	if database != nil {
		processors = append(processors, audit.NewDBProcessor(database))
	}
	auditPool := audit.NewAuditWorkerPool(audit.AuditPoolConfig{
		BatchSize: cfg.AuditBatchSize,
		Timeout:   cfg.AuditFlushInterval,
	}, processors...)
	auditCtx, auditCancel := context.WithCancel(context.Background())
	auditPool.Start(auditCtx, 2)
	defer auditPool.Shutdown(auditCancel)

	orch := orders.New(repository.NewOrderRepository(store),
		orders.WithCallTimeout(cfg.StoreCallTimeout),
		orders.WithAtomic(cfg.AtomicOrders),
		orders.WithTransitionRecorder(auditPool),
	)
	log.Printf("orders: store=%s atomic=%t", cfg.StoreDriver, orch.Atomic())

	sessions := cart.NewSessionStore(cfg.SessionTTL)
	go sessions.StartJanitor(ctx, time.Minute)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.StartJanitor(ctx, 10*time.Minute)

	if cfg.KafkaEnabled {
		closeKafka, err := startKafka(ctx, cfg, database)
		if err != nil {
			return err
		}
		defer closeKafka()
	}

	catalog := repository.NewCatalogRepository(store)
	catalogCache := cache.NewCatalogCache(catalog, cfg.CatalogCacheTTL)
	go catalogCache.StartAutoRefresh(ctx, cfg.CatalogCacheTTL)

	srv := server.NewServer(cfg, server.Deps{
		Discovery: service.NewDiscoveryService(catalogCache, locations, availability.New(cfg.MaxRadiusKm), m),
		Checkout:  service.NewCheckoutService(catalog, sessions, orch, m),
		Locations: locations,
		Auth:      middleware.NewAuth(cfg.JWTSecret),
		Limiter:   limiter,
		Metrics:   m,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Println("Server stopped")
	return nil
}

// openStore returns the record store picked by STORE_DRIVER. database is
// non-nil only for postgres.
func openStore(ctx context.Context, cfg *config.Config) (repository.RecordStore, *sql.DB, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		database, err := db.NewDB(ctx, cfg.DSN, migrations.FS)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repository.NewPostgresStore(database), database, func() { database.Close() }, nil
	case "mongo":
		client, store, err := repository.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				log.Printf("mongo disconnect: %v", err)
			}
		}
		return store, nil, closeFn, nil
	case "memory":
		store, err := repository.NewMemoryStore(cfg.MemorySnapshot)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open memory store: %w", err)
		}
		return store, nil, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// startKafka runs the outbox relay (postgres only) and the chef feed
// consumer in the background.
func startKafka(ctx context.Context, cfg *config.Config, database *sql.DB) (func(), error) {
	producer, err := kafka.NewSaramaProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, err
	}

	if database != nil {
		relay := taskprocessor.NewTaskProcessor(
			repository.NewPostgresTaskRepository(database),
			producer, cfg.KafkaTopic, cfg.OutboxPollInterval, 100,
		)
		go relay.Start(ctx)
	} else {
		log.Printf("outbox relay needs postgres; %s store events stay queued", cfg.StoreDriver)
	}

	consumerCfg := sarama.NewConfig()
	consumerCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	go func() {
		handler := kafka.NewConsumerGroupHandler(kafka.LogEvent)
		if err := kafka.StartSaramaConsumer(ctx, consumerCfg, cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaTopic}, handler); err != nil {
			log.Printf("chef feed consumer: %v", err)
		}
	}()

	return func() {
		if err := producer.Close(); err != nil {
			log.Printf("kafka producer close: %v", err)
		}
	}, nil
}
