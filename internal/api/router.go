package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/forge/internal/api/handlers"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/pkg/logger"
)

// Pinger is a dependency probed by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router serves.
type Deps struct {
	Registry   contracts.Registry
	Operations handlers.Operations
	Metrics    *observability.Metrics
	Hub        *Hub
	// Database is optional; when set /health reports its reachability.
	Database Pinger
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: every route is declared in this function
func NewRouter(deps Deps, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheckHandler(deps.Database)).Methods("GET")
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")
	}
	if deps.Hub != nil {
		r.HandleFunc("/ws/events", deps.Hub.ServeWS).Methods("GET")
	}

	deployments := handlers.NewDeploymentHandler(deps.Registry, deps.Operations, log)
	specs := handlers.NewSpecHandler(deps.Registry, log)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/deployments", deployments.List).Methods("GET")
	api.HandleFunc("/deployments/{id}", deployments.Get).Methods("GET")
	api.HandleFunc("/deployments/{id}/comparison", deployments.Comparison).Methods("GET")
	api.HandleFunc("/deployments/{id}/promotion", deployments.Promotion).Methods("GET")
	api.HandleFunc("/deployments/{id}/stop", deployments.Stop).Methods("POST")
	api.HandleFunc("/sweeps/{name}", deployments.RunSweep).Methods("POST")

	api.HandleFunc("/specs/best", specs.Best).Methods("GET")

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		body := map[string]interface{}{"service": "forge-api"}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
				body["database"] = err.Error()
			} else {
				body["database"] = "ok"
			}
		}
		body["status"] = status

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// statusRecorder captures the response code for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
