package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ticketmarket/internal/auth"
	"ticketmarket/internal/config"
	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/order"
	"ticketmarket/internal/order/db"
	"ticketmarket/internal/order/expiration"
	orderkafka "ticketmarket/internal/order/kafka"
	"ticketmarket/internal/order/order_api"
	"ticketmarket/internal/order/pass"
	orderredis "ticketmarket/internal/order/redis"
)

func main() {
	cfg := config.Load("orders")
	log := logger.New("order-service")
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("connect to postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	if err := db.Migrate(ctx, bunDB); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("migrate: %v", err))
	}

	// --- Redis ---
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("connect to redis: %v", err))
	}

	// --- Kafka ---
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, events.AllTopics); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("ensure topics: %v", err))
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	service := order.NewOrderService(
		&db.DB{Bun: bunDB},
		&orderkafka.Publisher{Producer: producer},
		pass.NewGenerator(cfg.Orders.QRSecret),
		cfg.Orders.ExpirationWindow,
		log,
	)

	subscriber := kafka.NewSubscriber(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
	defer subscriber.Close()
	listener := &order.Listener{Service: service, Log: log}
	listener.Register(subscriber)
	subscriber.Start(ctx)

	// --- Expiration sweep ---
	scheduler := expiration.NewScheduler(
		service,
		&orderredis.SweepLock{Client: redisClient},
		cfg.Orders.SweepInterval,
		log,
	)
	go scheduler.Run(ctx)

	// --- HTTP ---
	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("create verifier: %v", err))
	}

	handler := &order_api.Handler{OrderService: service, Logger: log}
	r := chi.NewRouter()
	r.Use(verifier.Middleware())
	handler.Routes(r)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("order service listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("http server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("SERVER", fmt.Sprintf("forced shutdown: %v", err))
	}
	log.Info("SERVER", "order service stopped")
}
