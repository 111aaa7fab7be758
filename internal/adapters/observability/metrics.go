package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "chacara"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	Quotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "quotes_total", Help: "Price quotes computed."},
		[]string{"type", "source"}, // source: server|offline
	)
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reservation_submissions_total", Help: "Reservation submissions by outcome."},
		[]string{"outcome"},
	)
	AvailabilityRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "availability_rejections_total", Help: "Date selections refused by the calendar."},
		[]string{"reason"},
	)
	ReservationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reservation_status_changes_total", Help: "Reservation status changes."},
		[]string{"to"},
	)
)

// Serve exposes /metrics on addr in the background. Empty address disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		Quotes, Submissions, AvailabilityRejections, ReservationTransitions,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveQuote(typ, source string) {
	if typ == "" {
		typ = "unset"
	}
	Quotes.WithLabelValues(typ, source).Inc()
}

func ObserveSubmission(outcome string) { Submissions.WithLabelValues(outcome).Inc() }

func ObserveAvailabilityRejection(reason string) {
	AvailabilityRejections.WithLabelValues(reason).Inc()
}

func ObserveReservationStatus(to string) { ReservationTransitions.WithLabelValues(to).Inc() }

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
