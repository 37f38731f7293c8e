package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полный резолв execution context (collect -> build)
	ResolutionDuration *prometheus.HistogramVec

	// Traffic: исходы резолва (ok, agent_not_found, credential_resolution ...)
	Resolutions *prometheus.CounterVec

	// Деградации, которые не прерывают вызов
	Warnings *prometheus.CounterVec

	// Кэши: токены и членство в группах
	TokenCache      *prometheus.CounterVec
	MembershipCache *prometheus.CounterVec

	// Ошибки получения токенов по облаку и режиму аутентификации
	CredentialErrors *prometheus.CounterVec

	// Saturation: состояние предохранителя authority (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если регистр не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ResolutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scope_resolution_duration_seconds",
			Help:    "Histogram of execution context resolution latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		Resolutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scope_resolutions_total",
			Help: "Total number of resolution calls by outcome.",
		}, []string{"outcome"}),

		Warnings: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scope_resolution_warnings_total",
			Help: "Non-fatal degradations recorded during resolution.",
		}, []string{"kind"}),

		TokenCache: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scope_token_cache_total",
			Help: "Token cache lookups by result.",
		}, []string{"result"}), // hit, miss

		MembershipCache: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scope_membership_cache_total",
			Help: "Membership cache lookups by result.",
		}, []string{"result"}),

		CredentialErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "scope_credential_errors_total",
			Help: "Credential acquisition failures.",
		}, []string{"environment", "auth_mode"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "scope_token_breaker_state",
			Help: "Current state of the token authority circuit breaker (0=closed, 1=open).",
		}, []string{"authority"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "scope_journal_buffer_utilization",
			Help: "Current number of entries in the resolution journal buffer.",
		}),
	}
}
