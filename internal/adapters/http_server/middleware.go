package httpserver

import (
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"chacara_booking/internal/adapters/observability"
)

const timeoutBody = `{"type":"about:blank","title":"Timeout","status":503,"detail":"request took too long"}`

// Timeout bounds every handler and answers 503 with a problem body when it fires.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, timeoutBody) }
}

var traceContext = propagation.TraceContext{}

// TraceContext adopts the caller's W3C traceparent as the remote parent of the request, so
// log lines carry the caller's trace id. Malformed headers are ignored.
func TraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := traceContext.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recorder remembers the status and body size written by the handler.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *recorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *recorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// routePattern prefers the chi pattern so /v1/reservations/{code} is one metric series.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		observability.ObserveHTTP(routePattern(r), r.Method, rec.Status(), time.Since(start))
	})
}

// Logger writes one http_request event per request, at error level for 5xx.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			ev := l.Info()
			if rec.Status() >= http.StatusInternalServerError {
				ev = l.Error()
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				ev = ev.Str("trace_id", sc.TraceID().String())
			}
			ev.Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Int("status", rec.Status()).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("remote", clientIP(r)).
				Str("ua", r.UserAgent()).
				Msg("http_request")
		})
	}
}

// clientIP reads RemoteAddr, which chimw.RealIP has already replaced with the proxy-reported address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ---- Shared-secret guards ----

// RequireSecret rejects requests whose header does not carry secret. An empty secret
// disables the routes entirely.
func RequireSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeProblem(w, http.StatusServiceUnavailable, "Disabled", "endpoint is not configured")
				return
			}
			got := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid "+header)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
