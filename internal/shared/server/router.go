package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/billing"
	"servicesift-backend/internal/businesses"
	"servicesift-backend/internal/pipeline"
	"servicesift-backend/internal/reports"
	"servicesift-backend/internal/services/health"
	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/metrics"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers mounted by NewRouter. Nil handlers are skipped.
type RouterDeps struct {
	Config     config.Config
	Verifier   middleware.TokenVerifier
	Health     *health.Service
	Analyses   *analyses.Handler
	Businesses *businesses.Handler
	Billing    *billing.Handler
	Reports    *reports.Handler
	Pipeline   *pipeline.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(nil)
	}
	api.GET("/health", func(c *gin.Context) {
		payload, ok := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, payload)
	})
	api.GET("/metrics", metrics.Handler())

	// Public routes authenticate by signature or shared secret.
	if deps.Billing != nil {
		deps.Billing.RegisterWebhook(api)
	}
	if deps.Pipeline != nil {
		deps.Pipeline.RegisterRoutes(api)
	}

	authed := api.Group("")
	authed.Use(middleware.Auth(deps.Verifier))
	if deps.Billing != nil {
		deps.Billing.RegisterRoutes(authed)
	}
	if deps.Reports != nil {
		deps.Reports.RegisterRoutes(authed)
	}
	if deps.Analyses != nil {
		deps.Analyses.RegisterRoutes(authed)
	}
	if deps.Businesses != nil {
		deps.Businesses.RegisterRoutes(authed)
	}

	return r
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
