package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/account"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/api"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/events"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/health"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/keycloak"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/metrics"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/store"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/config"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/middleware"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/postgres"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/rabbitmq"

	_ "github.com/ProjectOpenLeaf/OpenLeaf-User-Service/docs"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// @title           OpenLeaf User Service API
// @version         1.0
// @description     User profile service. Registers users keyed by their identity provider id and orchestrates account deletion across RabbitMQ, Keycloak and the local store.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[API] Starting api-service...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[API] Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := postgres.RunMigrations(db, "api"); err != nil {
		log.Fatalf("[API] Failed to run migrations: %v", err)
	}

	// Connect to RabbitMQ
	rmqConn, err := rabbitmq.Connect(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to RabbitMQ: %v", err)
	}
	defer rmqConn.Close()
	brokerClosed := rmqConn.NotifyClosed()

	// Create publisher
	publisher, err := rabbitmq.NewPublisher(rmqConn, models.DeletionExchange, cfg.RabbitMQPublishTimeout)
	if err != nil {
		log.Fatalf("[API] Failed to create publisher: %v", err)
	}
	defer publisher.Close()

	// Downstream queues exist before the first event is published, so no
	// deletion is lost while a consumer is still starting.
	if err := publisher.DeclareBoundQueues(models.DeletionRoutingKey,
		models.AssignmentDeletionQueue,
		models.SchedulingDeletionQueue,
		models.JournalDeletionQueue,
	); err != nil {
		log.Fatalf("[API] Failed to declare deletion queues: %v", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	idp := keycloak.NewClient(keycloak.Config{
		ServerURL:    cfg.KeycloakURL,
		Realm:        cfg.KeycloakRealm,
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
		Timeout:      cfg.KeycloakTimeout,
		CacheToken:   cfg.KeycloakTokenCache,
		AdminRPS:     cfg.KeycloakAdminRPS,
		Observer:     collector,
	})

	svc := account.NewService(
		store.NewUserStore(db),
		events.NewAccountDeletionPublisher(publisher),
		idp,
		store.NewAuditStore(db),
		collector,
	)

	readiness := health.NewService(
		health.NewPostgresChecker(db),
		health.NewRabbitMQChecker(rmqConn),
	)

	var auth gin.HandlerFunc
	if cfg.OIDCIssuerURL != "" {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			log.Fatalf("[API] Failed to set up token verification: %v", err)
		}
		auth = middleware.BearerAuth(verifier)
		log.Printf("[API] Bearer auth enabled, issuer=%s", cfg.OIDCIssuerURL)
	} else {
		log.Println("[API] OIDC_ISSUER_URL not set, user routes are unauthenticated")
	}

	// Setup handlers and router
	router := api.NewRouter(api.RouterConfig{
		Users:   api.NewUserHandler(svc),
		Health:  api.NewHealthHandler(readiness),
		Metrics: metrics.Handler(reg),
		Auth:    auth,
	})

	// HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[API] Listening on port %s", cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	// Wait for interrupt signal. A lost broker connection or publishing
	// channel is not recovered in process; exit non-zero so the supervisor
	// restarts us with fresh ones.
	exitCode := 0
	if err := rabbitmq.WaitClosed(ctx, brokerClosed, publisher.Closed()); err != nil {
		log.Printf("[API] %v, shutting down for restart", err)
		exitCode = 1
	}

	log.Println("[API] Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Server forced to shutdown: %v", err)
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	log.Println("[API] Server exited gracefully")
}
