package http

import (
	"log/slog"

	"github.com/geocoder89/chime/internal/http/handlers"
	"github.com/geocoder89/chime/internal/http/middlewares"
	"github.com/geocoder89/chime/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps carries everything the router wires; main builds it once.
type Deps struct {
	Env          string
	Log          *slog.Logger
	Users        handlers.UsersRepo
	Events       handlers.AdminEventsRepo
	Bus          handlers.Publisher
	JWT          middlewares.TokenVerifier
	Prom         *observability.Prom
	PromRegistry *prometheus.Registry
	Ping         func() error
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(d.Log))
	r.Use(otelgin.Middleware("chime-api"))

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health + metrics

	h := handlers.NewHealthHandler(d.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.PromRegistry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.PromRegistry, promhttp.HandlerOpts{})))
	}

	// user facade: CRUD plus the domain events the scheduling core reacts to

	usersHandler := handlers.NewUsersHandler(d.Users, d.Bus)

	r.POST("/users", usersHandler.CreateUser)
	r.GET("/users/:id", usersHandler.GetUser)
	r.PUT("/users/:id", usersHandler.UpdateUser)
	r.DELETE("/users/:id", usersHandler.DeleteUser)

	// operator surface

	adminHandler := handlers.NewAdminEventsHandler(d.Events)
	authMW := middlewares.NewAuthMiddleware(d.JWT)

	admin := r.Group("/admin", authMW.RequireAdmin())
	admin.GET("/events", adminHandler.List)
	admin.GET("/events/:id", adminHandler.GetByID)
	admin.POST("/events/:id/requeue", adminHandler.Requeue)

	return r
}
