package api

import (
	"net/http"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/middleware"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterConfig wires the handlers into the router.
type RouterConfig struct {
	Users  *UserHandler
	Health *HealthHandler

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Auth guards the user routes when set.
	Auth gin.HandlerFunc
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	// Middleware
	r.Use(middleware.CorrelationID())

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(nil)
	}
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	// Swagger
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// User routes
	users := r.Group("/")
	if cfg.Auth != nil {
		users.Use(cfg.Auth)
	}
	users.POST("/register", cfg.Users.Register)
	users.GET("/therapists", cfg.Users.ListTherapists)
	users.GET("/users", cfg.Users.ListUsers)
	users.GET("/users/:externalId", cfg.Users.GetUser)
	users.DELETE("/users/:externalId", cfg.Users.DeleteUser)

	return r
}
