package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth *health.Server
	httpServer *http.Server
	router     *mux.Router
	logger     *zap.Logger
	mu         sync.RWMutex
	ready      bool
	components map[string]bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	h := &HealthChecker{
		grpcHealth: health.NewServer(),
		router:     mux.NewRouter(),
		logger:     logger,
		ready:      true,
		components: make(map[string]bool),
	}
	h.router.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	h.router.HandleFunc("/readyz", h.handleReadyz).Methods(http.MethodGet)
	h.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return h
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.mu.RLock()
	status := h.servingStatusLocked()
	h.mu.RUnlock()
	h.grpcHealth.SetServingStatus("", status)
}

// Router exposes the HTTP routes, for tests and extra handlers.
func (h *HealthChecker) Router() *mux.Router {
	return h.router
}

// HandleJSON serves the result of fn as JSON on path.
func (h *HealthChecker) HandleJSON(path string, fn func() any) {
	h.router.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			h.logger.Warn("failed to encode response", zap.String("path", path), zap.Error(err))
		}
	}).Methods(http.MethodGet)
}

// StartHTTPServer starts the HTTP health check server
func (h *HealthChecker) StartHTTPServer(addr string) error {
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.router,
	}

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	return h.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.mu.Unlock()

	if h.httpServer != nil {
		return h.httpServer.Shutdown(ctx)
	}
	return nil
}

// SetComponentReady records the readiness of a named dependency such as
// the store, the notification producer or the live stream.
func (h *HealthChecker) SetComponentReady(name string, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ready
	h.grpcHealth.SetServingStatus("", h.servingStatusLocked())
}

func (h *HealthChecker) servingStatusLocked() grpc_health_v1.HealthCheckResponse_ServingStatus {
	if h.readyLocked() {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

func (h *HealthChecker) readyLocked() bool {
	if !h.ready {
		return false
	}
	for _, ok := range h.components {
		if !ok {
			return false
		}
	}
	return true
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
	}
}

type readiness struct {
	Ready      bool     `json:"ready"`
	NotReady   []string `json:"not_ready,omitempty"`
	Components []string `json:"components"`
}

func (h *HealthChecker) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := readiness{Ready: h.readyLocked()}
	for name, ok := range h.components {
		resp.Components = append(resp.Components, name)
		if !ok {
			resp.NotReady = append(resp.NotReady, name)
		}
	}
	h.mu.RUnlock()
	sort.Strings(resp.Components)
	sort.Strings(resp.NotReady)

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
