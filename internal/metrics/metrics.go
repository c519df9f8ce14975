package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del core. Definidas en un package propio para evitar
// ciclos de import entre el poller y las capas HTTP.

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_login_attempts_total",
		Help: "Intentos de login por resultado (ok|unauthorized|bad_request)",
	}, []string{"result"})

	SessionsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perch_sessions_issued_total",
		Help: "Sesiones emitidas",
	})

	CanaryChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_canary_checks_total",
		Help: "Chequeos DNS de canaries por resultado (match|no_match|dns_error)",
	}, []string{"outcome"})

	CanaryTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_canary_transitions_total",
		Help: "Transiciones de estado de verificación de dominio",
	}, []string{"to"})

	DNSLookupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "perch_dns_lookup_duration_ms",
		Help:    "Duración del lookup TXT en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	VerificationsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perch_verifications_pending",
		Help: "Canaries en estado pending/verifying vistos en la última corrida del poller",
	})

	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perch_notifications_sent_total",
		Help: "Notificaciones despachadas por canal (email|webhook)",
	}, []string{"channel"})
)

// Register registra las métricas en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		LoginAttempts,
		SessionsIssued,
		CanaryChecks,
		CanaryTransitions,
		DNSLookupDuration,
		VerificationsPending,
		NotificationsSent,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
