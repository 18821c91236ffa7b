package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ticketmarket/internal/auth"
	"ticketmarket/internal/config"
	"ticketmarket/internal/database/migrations"
	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/payment"
	"ticketmarket/internal/payment/handler"
	paymentkafka "ticketmarket/internal/payment/kafka"
	"ticketmarket/internal/payment/services"
	"ticketmarket/internal/payment/storage"
)

func main() {
	cfg := config.Load("payments")
	log := logger.New("payment-service")
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL ---
	store, err := storage.NewPostgreSQLStore(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("connect to postgres: %v", err))
	}
	defer store.Close()

	if cfg.Database.MigrationsDir != "" {
		runner := migrations.NewRunner(store.DB(), cfg.Database.MigrationsDir, log)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("migrate: %v", err))
		}
		defer runner.Close()
	}

	// --- Kafka ---
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, events.AllTopics); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("ensure topics: %v", err))
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	service := &payment.PaymentService{
		Store:  store,
		Cards:  services.NewStripeService(cfg.Stripe.SecretKey),
		Events: &paymentkafka.Publisher{Producer: producer},
		Log:    log,
	}

	subscriber := kafka.NewSubscriber(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
	defer subscriber.Close()
	listener := &payment.Listener{Service: service}
	listener.Register(subscriber)
	subscriber.Start(ctx)

	// --- HTTP ---
	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("create verifier: %v", err))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/", verifier.GinMiddleware())
	(&handler.Handler{Service: service, Log: log}).Routes(api)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("payment service listening on %s", cfg.Server.Port))
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
	log.Info("SERVER", "payment service stopped")
}
