package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TokensStoredTotal        prometheus.Counter
	TokenRefreshSuccessTotal prometheus.Counter
	TokenRefreshFailureTotal prometheus.Counter
	ConnectCompletedTotal    prometheus.Counter
	CleanupExpiredTotal      prometheus.Counter
	CleanupDeletedTotal      prometheus.Counter
)

// InitCustomMetrics initializes and registers the vault's Prometheus metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	TokensStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenvault_tokens_stored_total",
		Help: "Total number of account tokens encrypted and stored.",
	})
	TokenRefreshSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenvault_token_refresh_success_total",
		Help: "Total number of successful long-lived token refreshes.",
	})
	TokenRefreshFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenvault_token_refresh_failure_total",
		Help: "Total number of failed token refreshes (credential deactivated).",
	})
	ConnectCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenvault_connect_completed_total",
		Help: "Total number of completed Meta connect flows.",
	})
	CleanupExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenvault_cleanup_expired_total",
		Help: "Total number of credentials deactivated by cleanup for expired tokens.",
	})
	CleanupDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenvault_cleanup_deleted_total",
		Help: "Total number of inactive credentials hard-deleted by cleanup.",
	})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		TokensStoredTotal,
		TokenRefreshSuccessTotal,
		TokenRefreshFailureTotal,
		ConnectCompletedTotal,
		CleanupExpiredTotal,
		CleanupDeletedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register tokenvault metric")
		}
	}
}
