package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the wrapped-collateral layer.
type Metrics struct {
	// --- Settlement ---
	OperationsSettled  prometheus.Counter
	OperationsReverted *prometheus.CounterVec
	OperationDuration  prometheus.Histogram
	ExchangesSettled   *prometheus.CounterVec

	// --- Vaults ---
	VaultsCreated    prometheus.Counter
	VaultDeposits    prometheus.Counter
	VaultWithdrawals prometheus.Counter
	RewardHarvests   prometheus.Counter

	// --- Event pipeline ---
	EventsRecorded *prometheus.CounterVec
	EventDrops     prometheus.Counter

	// --- Stream publisher ---
	EventsPublished prometheus.Counter
	PublishErrors   prometheus.Counter

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistErrors      *prometheus.CounterVec
	PersistBatchSize   prometheus.Histogram

	// --- HTTP API ---
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with the provided registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_operations_settled_total",
			Help: "Batches settled atomically by the margin ledger",
		}),
		OperationsReverted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dolo_operations_reverted_total",
			Help: "Batches rolled back, by failing action type",
		}, []string{"action_type"}),
		OperationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dolo_operation_duration_seconds",
			Help:    "Wall time to settle one batch",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		ExchangesSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dolo_exchanges_settled_total",
			Help: "Trader conversions settled, by market pair",
		}, []string{"pair"}),

		VaultsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_vaults_created_total",
			Help: "Per-owner vaults deployed by the factory",
		}),
		VaultDeposits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_vault_deposits_total",
			Help: "Deposits into vaults credited on the ledger",
		}),
		VaultWithdrawals: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_vault_withdrawals_total",
			Help: "Withdrawals from vaults debited on the ledger",
		}),
		RewardHarvests: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_reward_harvests_total",
			Help: "Reward harvest operations triggered by vault owners",
		}),

		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dolo_events_recorded_total",
			Help: "Domain events recorded, by type",
		}, []string{"type"}),
		EventDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_event_drops_total",
			Help: "Events dropped because the pipeline channel was full",
		}),

		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_events_published_total",
			Help: "Events published to NATS JetStream",
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_publish_errors_total",
			Help: "Failed JetStream publishes (non-fatal, events remain in Postgres)",
		}),

		PersistRowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "dolo_persist_rows_written_total",
			Help: "Rows written to the Postgres event journal",
		}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dolo_persist_errors_total",
			Help: "Persistence failures, by kind",
		}, []string{"kind"}),
		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dolo_persist_batch_size",
			Help:    "Rows per persistence flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dolo_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

// NewDefaultMetrics registers against the default Prometheus registry.
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// ServeMetrics exposes the default registry on its own listener, keeping the
// scrape endpoint off the public API port. Blocks until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
