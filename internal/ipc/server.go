package ipc

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wraps an HTTP server with governor-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              listenAddr,
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter builds the routed, middleware-wrapped handler tree.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// DNA and mutation endpoints.
	mux.HandleFunc("GET /api/v1/dna", h.GetDNA)
	mux.HandleFunc("GET /api/v1/mutations", h.MutationLog)
	mux.HandleFunc("POST /api/v1/mutations", h.ProposeMutation)

	// Approval endpoints.
	mux.HandleFunc("GET /api/v1/approvals", h.ListApprovals)
	mux.HandleFunc("POST /api/v1/approvals/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/v1/approvals/{id}/reject", h.Reject)
	mux.HandleFunc("GET /api/v1/session", h.SessionStats)

	// Fitness endpoints.
	mux.HandleFunc("GET /api/v1/fitness", h.GetFitness)
	mux.HandleFunc("GET /api/v1/fitness/history", h.FitnessHistory)
	mux.HandleFunc("GET /api/v1/fitness/degradation", h.DetectDegradation)
	mux.HandleFunc("POST /api/v1/fitness/evaluate", h.EvaluateFitness)
	mux.HandleFunc("POST /api/v1/fitness/operations", h.RecordOperation)
	mux.HandleFunc("POST /api/v1/fitness/downtime", h.RecordDowntime)

	// Healing endpoints.
	mux.HandleFunc("POST /api/v1/heal", h.Heal)
	mux.HandleFunc("GET /api/v1/healing/stats", h.HealingStats)

	// Snapshot and rollback endpoints.
	mux.HandleFunc("GET /api/v1/snapshots", h.ListSnapshots)
	mux.HandleFunc("POST /api/v1/snapshots", h.CreateSnapshot)
	mux.HandleFunc("GET /api/v1/snapshots/{id}", h.GetSnapshot)
	mux.HandleFunc("POST /api/v1/rollback", h.Rollback)

	// Audit endpoints.
	mux.HandleFunc("GET /api/v1/audit", h.ListAudit)
	mux.HandleFunc("GET /api/v1/audit/stream", h.StreamAudit)

	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(loggingMiddleware(h.logger(), mux))
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for local dashboard access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// FormatListenURL turns a listen address into a browsable URL.
func FormatListenURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
