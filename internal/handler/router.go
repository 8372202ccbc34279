package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// HealthChecker reports per-component status. The error is non-nil when
// any component is unhealthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (map[string]string, error)
}

type RouterOptions struct {
	// PhoneAuthLimiter, when set, guards OTP initiation on top of the
	// general limiter.
	PhoneAuthLimiter RateLimiter

	RequireHTTPS   bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	AdminAPIKey    string
	ServiceName    string
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(
	authHandler *AuthHandler,
	adminHandler *AdminHandler,
	limiter RateLimiter,
	health HealthChecker,
	opts RouterOptions,
	logger *zap.Logger,
) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"https://*"}
	}

	router := chi.NewRouter()

	if opts.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(opts.RequestTimeout))
	router.Use(SecurityHeaders)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", adminKeyHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(health, opts.ServiceName, logger))

	router.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(DeviceFingerprint)
		if limiter != nil {
			r.Use(RateLimit(limiter, logger))
		}

		var initiateMW []func(http.Handler) http.Handler
		if opts.PhoneAuthLimiter != nil {
			initiateMW = append(initiateMW, RateLimitWithMessage(opts.PhoneAuthLimiter, phoneAuthLimitMessage, logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(PhoneSanitizer(logger))
			authHandler.RegisterRoutes(r, initiateMW...)
		})

		if adminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdminKey(opts.AdminAPIKey, logger))
				adminHandler.RegisterRoutes(r)
			})
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusNotFound, Response{Success: false, Message: "endpoint not found"})
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusMethodNotAllowed, Response{Success: false, Message: "method not allowed"})
	})

	return router
}

func healthHandler(health HealthChecker, serviceName string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "healthy", "service": serviceName}
		if health == nil {
			writeJSON(w, logger, http.StatusOK, body)
			return
		}

		components, err := health.HealthCheck(r.Context())
		body["components"] = components
		if err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			body["status"] = "unhealthy"
			writeJSON(w, logger, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, logger, http.StatusOK, body)
	}
}
