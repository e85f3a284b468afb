package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"enquiry-service/internal/config"
	"enquiry-service/internal/util"
)

// HealthChecker reports the health of each backing dependency by name.
// A nil error means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(enquiryHandler *EnquiryHandler, health HealthChecker, cfg *config.Config, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(health, cfg, logger))
	router.Get("/api", apiIndexHandler(cfg))

	router.Route(cfg.Server.BasePath, func(r chi.Router) {
		enquiryHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "Endpoint not found",
			"path":    r.URL.Path,
			"method":  r.Method,
		})
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"success": false,
			"error":   "Method not allowed",
			"path":    r.URL.Path,
			"method":  r.Method,
		})
	})

	return router
}

// healthHandler reports 503 when the enquiry database is unreachable;
// optional backends only show up in the dependency list. Failure details
// are logged, never returned.
func healthHandler(health HealthChecker, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies := make(map[string]string)
		database := "connected"
		status, code := "OK", http.StatusOK

		if health != nil {
			for name, err := range health.HealthCheck(ctx) {
				if err == nil {
					dependencies[name] = "healthy"
					continue
				}
				dependencies[name] = "unhealthy"
				logger.Warn("Health check failed",
					zap.String("dependency", name),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Error(err))
				if name == "database" {
					database = "disconnected"
					status, code = "ERROR", http.StatusServiceUnavailable
				}
			}
		}

		writeJSON(w, code, map[string]interface{}{
			"status":       status,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"service":      cfg.ServiceName,
			"version":      cfg.Version,
			"environment":  cfg.Environment,
			"database":     database,
			"dependencies": dependencies,
		})
	}
}

func apiIndexHandler(cfg *config.Config) http.HandlerFunc {
	base := cfg.Server.BasePath
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Enquiry Management API",
			"version": cfg.Version,
			"endpoints": map[string]string{
				"POST " + base + "/send-otp": "Send an OTP to a phone number",
				"POST " + base + "/submit":   "Submit an enquiry with OTP verification",
				"GET " + base:                "List enquiries (status, search, sort, page, limit)",
				"GET " + base + "/{id}":      "Get a single enquiry",
				"PUT " + base + "/{id}":      "Update enquiry status or add a note",
				"DELETE " + base + "/{id}":   "Delete an enquiry",
				"GET /health":                "Service health",
			},
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
