package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-lifecycle/internal/config"
	"github.com/jwalitptl/consult-lifecycle/internal/handler/cases"
	"github.com/jwalitptl/consult-lifecycle/internal/handler/health"
	"github.com/jwalitptl/consult-lifecycle/internal/handler/prometheus"
	"github.com/jwalitptl/consult-lifecycle/internal/middleware"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	casesH      *cases.Handler
	healthH     *health.Handler
	metricsH    *prometheus.Handler
	idempotency *middleware.Idempotency
	rateLimiter *middleware.RateLimiter
}

func NewRouter(
	cfg config.ServerConfig,
	idem config.IdempotencyConfig,
	auth *middleware.AuthMiddleware,
	casesH *cases.Handler,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	log *logger.Logger,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:      engine,
		auth:        auth,
		casesH:      casesH,
		healthH:     healthH,
		metricsH:    metricsH,
		idempotency: middleware.NewIdempotency(idem.TTL),
		rateLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RPS),
			Burst: cfg.RateLimit.Burst,
		}),
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		metricsH.Middleware(),
		middleware.Timeout(cfg.RequestTimeout),
	)

	return r
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metricsH.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(
		middleware.SizeLimit(maxBodyBytes),
		r.auth.Authenticate(),
		r.rateLimiter.RateLimit(),
	)
	r.casesH.RegisterRoutes(api, r.idempotency.Handle())
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
