package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/batches"
	"resume-ingest/internal/checkpoint"
	"resume-ingest/internal/services/health"
	"resume-ingest/internal/shared/auth"
	"resume-ingest/internal/shared/config"
	"resume-ingest/internal/shared/metrics"
	"resume-ingest/internal/shared/server/middleware"
	"resume-ingest/internal/shared/server/respond"
)

const apiPrefix = "/api/v1"

// RouterDeps carries the handlers mounted under /api/v1.
type RouterDeps struct {
	Config            config.Config
	Verifier          *auth.Verifier
	CheckpointHandler *checkpoint.Handler
	BatchesHandler    *batches.Handler
	Limiter           *middleware.RateLimiter
	Health            *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env != "dev" && deps.Config.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(0)
	}
	healthHandler := func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}

	r.GET("/health", healthHandler)
	r.GET("/metrics", metrics.Handler())

	api := r.Group(apiPrefix)
	api.Use(
		middleware.Auth(deps.Verifier, apiPrefix+"/health"),
		middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:  deps.Limiter,
			GroupFor: middleware.RouteGroups(rateLimitGroups),
			Rules:    rateLimitRules,
		}),
	)
	api.GET("/health", healthHandler)
	registerMeRoutes(api)
	if deps.CheckpointHandler != nil {
		deps.CheckpointHandler.RegisterRoutes(api)
	}
	if deps.BatchesHandler != nil {
		deps.BatchesHandler.RegisterRoutes(api)
	}

	return r
}

// Snapshot polling gets a larger budget than submissions.
var rateLimitGroups = map[string]string{
	"GET " + apiPrefix + "/batches/:batchId":         "POLLING",
	"POST " + apiPrefix + "/batches":                 "SUBMIT",
	"POST " + apiPrefix + "/batches/:batchId/cancel": "DEFAULT",
}

var rateLimitRules = map[string]middleware.RateLimitRule{
	"DEFAULT": {Rate: 2, Burst: 10},
	"POLLING": {Rate: 5, Burst: 20},
	"SUBMIT":  {Rate: 0.2, Burst: 3},
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
