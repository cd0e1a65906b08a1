package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

type MetricsGenerator interface {
	IncSubmission(path, status string)
	IncRejection(kind string)
	AddDepositTopUp(wei float64)
	ObserveGasUsed(gas float64)
}

// RelayMetrics counts what the submission pipeline does. A rising rejection
// count for one kind with flat submissions usually means a stuck wallet.
type RelayMetrics struct {
	numSubmissions   *prometheus.CounterVec
	numRejections    *prometheus.CounterVec
	depositTopUpWei  prometheus.Counter
	numDepositTopUps prometheus.Counter
	gasUsed          prometheus.Histogram
}

const relayNamespace = "relay"

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	return &RelayMetrics{
		numSubmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "num_userop_submissions_total",
				Help:      "The number of user operations handed to the entry point, by authorization path and outcome",
			}, []string{"path", "status"}),

		numRejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "num_userop_rejections_total",
				Help:      "The number of user operations stopped before or at submission, by error kind",
			}, []string{"kind"}),

		depositTopUpWei: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "deposit_topup_wei_total",
				Help:      "Native value deposited into the entry point to cover prefunds",
			}),

		numDepositTopUps: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "num_deposit_topups_total",
				Help:      "The number of deposit top-ups sent before submission",
			}),

		gasUsed: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: relayNamespace,
				Name:      "userop_gas_used",
				Help:      "Actual gas used by included user operations",
				Buckets:   prometheus.ExponentialBuckets(50_000, 2, 8),
			}),
	}
}

func (m *RelayMetrics) IncSubmission(path, status string) {
	m.numSubmissions.WithLabelValues(path, status).Inc()
}

func (m *RelayMetrics) IncRejection(kind string) {
	m.numRejections.WithLabelValues(kind).Inc()
}

func (m *RelayMetrics) AddDepositTopUp(wei float64) {
	m.numDepositTopUps.Inc()
	m.depositTopUpWei.Add(wei)
}

func (m *RelayMetrics) ObserveGasUsed(gas float64) {
	m.gasUsed.Observe(gas)
}

// Serve exposes the default gatherer on addr until ctx is done.
func Serve(ctx context.Context, addr string, lgr logger.Logger) error {
	lgr = logger.EnsureLogger(lgr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("Serving prometheus server.", "error", err)
		}
	}()
	lgr.Info("Prometheus server started", "address", addr)

	<-ctx.Done()
	return srv.Close()
}
