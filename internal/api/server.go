// Package api exposes the HTTP boundary: job submission, SSE streaming
// of job events, chat history CRUD, and health probing. Handlers stay
// thin; the queue, router, and store do the real work.
package api

import (
	"errors"
	"net/http"

	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/router"
	"github.com/chatqd/chatqd/internal/store"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        log.Logger       // Required
	Queue         Dispatcher       // Required: worker queue
	Subscriptions *router.Registry // Required: per-job event subscriptions
	Store         *store.Store     // Optional: nil disables chat history API

	DefaultModel       string  // Applied when a submission names no model
	DefaultTemperature float64 // Applied when a submission has no temperature

	CORSOrigins        []string // Allowed origins for CORS
	TrustProxy         bool     // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateLimitPerMinute float64  // Token refill rate per IP (0 = default 60)
	RateLimitBurst     int      // Rate limiter burst size per IP (0 = default 10)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Queue == nil {
		return nil, errors.New("worker queue is required")
	}
	if cfg.Subscriptions == nil {
		return nil, errors.New("subscription registry is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	logger := cfg.Logger

	ch := &chatHandler{
		queue:              cfg.Queue,
		subscriptions:      cfg.Subscriptions,
		logger:             logger,
		defaultModel:       cfg.DefaultModel,
		defaultTemperature: cfg.DefaultTemperature,
	}

	mux := http.NewServeMux()

	// Job submission and streaming
	mux.HandleFunc("POST /chat", ch.submit)
	mux.HandleFunc("GET /stream/{job_id}", ch.stream)

	// Chat history (optional, only registered if a store is provided)
	if cfg.Store != nil {
		hh := &chatsHandler{store: cfg.Store, logger: logger}
		mux.HandleFunc("GET /api/chats", hh.list)
		mux.HandleFunc("POST /api/chats", hh.create)
		mux.HandleFunc("GET /api/chats/{chat_id}", hh.get)
		mux.HandleFunc("PUT /api/chats/{chat_id}", hh.update)
		mux.HandleFunc("DELETE /api/chats/{chat_id}", hh.remove)
	}

	// Rate limiter: per-IP token bucket
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	rl := newRateLimiter(perMinute, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to keep health probes out of the middleware
	// stack, rate limiting in particular.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
