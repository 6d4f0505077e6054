package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/allforeco/echochamber/telemetry"
)

// withCorrelation tags each request with a correlation id (client-supplied
// X-Request-Id or a fresh uuid), echoes it in the response, opens a tracing
// span for the request, and logs it.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Request-Id")
		if corr == "" {
			corr = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", corr)
		ctx, span := telemetry.StartSpan(r.Context(), "ops-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("request_id", corr),
		)
		defer span.End()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("corr", corr),
			slog.Duration("duration", time.Since(start)))
	})
}
