package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bnema/gemini-pool/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// requestLogger logs one line per request and feeds the request counter.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()

			log.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"route":      route,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).Round(time.Millisecond).String(),
				"remote":     r.RemoteAddr,
			}).Info("request")
		}()

		next.ServeHTTP(ww, r)
	})
}
