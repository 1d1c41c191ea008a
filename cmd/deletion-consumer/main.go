package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/cleanup"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/metrics"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/config"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/postgres"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/rabbitmq"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	base := config.Load()
	service := strings.ToLower(base.ConsumerService)
	cfg := config.LoadForService(strings.ToUpper(service))
	tag := "[" + strings.ToUpper(service) + "]"

	log.Printf("%s Starting deletion-consumer...", tag)

	queue, err := cleanup.QueueFor(service)
	if err != nil {
		log.Fatalf("%s %v", tag, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("%s Failed to connect to PostgreSQL: %v", tag, err)
	}
	defer db.Close()

	// Run migrations
	if err := postgres.RunMigrations(db, service); err != nil {
		log.Fatalf("%s Failed to run migrations: %v", tag, err)
	}

	// Connect to RabbitMQ
	rmqConn, err := rabbitmq.Connect(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("%s Failed to connect to RabbitMQ: %v", tag, err)
	}
	defer rmqConn.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// Create consumer
	consumer, err := cleanup.NewConsumer(db, service, cfg.CleanupTables)
	if err != nil {
		log.Fatalf("%s Failed to create consumer: %v", tag, err)
	}
	consumer.Metrics = collector

	consumerCfg := rabbitmq.ConsumerConfig{
		Exchange:     models.DeletionExchange,
		QueueName:    queue,
		DLQName:      rabbitmq.DeadLetterQueue(queue),
		RoutingKeys:  []string{models.DeletionRoutingKey},
		ConsumerName: service + "-deletion-consumer",
	}

	done, err := rabbitmq.SetupConsumer(rmqConn, consumerCfg, consumer.HandleMessage)
	if err != nil {
		log.Fatalf("%s Failed to setup consumer: %v", tag, err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("%s Metrics listening on port %s", tag, cfg.MetricsPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("%s Metrics server error: %v", tag, err)
		}
	}()

	log.Printf("%s Consumer is running, tables=%v. Waiting for messages...", tag, cfg.CleanupTables)

	// Wait for interrupt signal or a dropped broker connection
	select {
	case <-ctx.Done():
	case <-done:
		log.Printf("%s Delivery loop stopped", tag)
	}

	log.Printf("%s Shutting down...", tag)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
