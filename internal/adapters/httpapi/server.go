// Package httpapi exposes the OpenAI-compatible chat endpoint and the
// management routes over chi.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const maxRequestBody = 10 << 20

// Generator opens an upstream stream for a serialized generate request.
type Generator interface {
	StreamGenerateContent(ctx context.Context, payload []byte) (io.ReadCloser, error)
}

// Admin is the management surface of the pool.
type Admin interface {
	Unfreeze(identifier string) bool
	Statuses() []domain.AccountStatus
}

// Pool is what the router needs from the application layer.
type Pool interface {
	Generator
	Admin
}

type Server struct {
	pool Pool
}

func NewServer(pool Pool) *Server {
	return &Server{pool: pool}
}

// Handler builds the routed handler with the shared middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/chat/completions", s.handleChatCompletions)

		v1.Route("/management", func(m chi.Router) {
			m.Post("/unfreeze", s.handleUnfreeze)
			m.Get("/accounts", s.handleAccounts)
		})
	})

	return r
}

// NewHTTPServer wraps handler in an http.Server suited to long-lived SSE
// responses: no write timeout, bounded header reads.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write json response")
	}
}
