package observability

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Acquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_acquisitions_total",
		Help: "Acquisition cycles that returned data from the receiver",
	})
	AcquisitionsEmpty = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gps_acquisitions_empty_total",
		Help: "Acquisition cycles where the receiver had no pending data",
	})
	TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_transport_errors_total",
		Help: "Transport failures by kind",
	}, []string{"kind"})
	BusRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_bus_recoveries_total",
		Help: "Bus probes that only succeeded on an alternate register address",
	}, []string{"mode"})
	SentencesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_sentences_decoded_total",
		Help: "Sentences that passed validation, by type",
	}, []string{"type"})
	SentencesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_sentences_rejected_total",
		Help: "Sentences discarded by the decoder, by reason",
	}, []string{"reason"})
	FixValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gps_fix_valid",
		Help: "1 while the current fix is valid",
	})
	SatellitesInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gps_satellites_in_use",
		Help: "Satellites used in the current fix",
	})
	TrackFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracklog_flushes_total",
		Help: "Buffered record flushes written to storage",
	})
	TrackRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracklog_rotations_total",
		Help: "Track log file rotations",
	})
	TrackBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracklog_bytes_written_total",
		Help: "Bytes appended to track log files",
	})
	TrackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracklog_errors_total",
		Help: "Storage failures by kind",
	}, []string{"kind"})
	AcquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gps_acquire_latency_seconds",
		Help:    "Duration of one acquisition call",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveAcquireLatency(start time.Time) {
	AcquireLatency.Observe(time.Since(start).Seconds())
}

// StartMetricsServer serves /metrics and /healthz. It blocks.
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	log.Printf("metrics: listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
