package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterDeps carries everything NewRouter mounts.
type RouterDeps struct {
	Config              config.Config
	Verifier            auth.TokenVerifier
	Limiter             middleware.Limiter
	RateLimitRules      map[string]middleware.RateLimitRule
	DocumentHandler     *documents.Handler
	ConversationHandler *conversations.Handler
	QueryHandler        *retrieval.Handler
	UsageHandler        *quota.Handler
	Health              map[string]HealthCheck
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	rules := deps.RateLimitRules
	if rules == nil {
		rules = middleware.DefaultRateLimitRules()
	}
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env, deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rules,
			GroupFor: middleware.RouteGroup,
			Limiter:  deps.Limiter,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))
	var ledger *quota.Ledger
	if deps.UsageHandler != nil {
		ledger = deps.UsageHandler.Ledger
	}
	registerMeRoutes(api, ledger)
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.ConversationHandler != nil {
		deps.ConversationHandler.RegisterRoutes(api)
	}
	if deps.QueryHandler != nil {
		deps.QueryHandler.RegisterRoutes(api)
	}
	if deps.UsageHandler != nil {
		deps.UsageHandler.RegisterRoutes(api)
		if config.IsDevLike(deps.Config.Env) {
			deps.UsageHandler.RegisterDevRoutes(api.Group("/dev"))
		}
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		respond.JSON(c, status, gin.H{"ok": status == http.StatusOK, "checks": results})
	}
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
