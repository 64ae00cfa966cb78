package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FollowUpEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_followup_events_total",
			Help: "Follow-up event lifecycle counter by stage and channel",
		},
		[]string{"stage", "channel"}, // scheduled|sent|skipped , sms|email|call
	)

	EstimatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_estimates_total",
			Help: "Estimate lifecycle counter by outcome",
		},
		[]string{"outcome"}, // created|declined|warned|won|lost
	)

	JobErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_job_errors_total",
			Help: "Per-estimate errors swallowed by sweep loops, by job",
		},
		[]string{"job"}, // followups|autodecline|reconcile|relay
	)

	ProviderBreakerOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_provider_breaker_opens_total",
			Help: "Messaging provider circuit breaker open transitions",
		},
		[]string{"provider"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		FollowUpEventsTotal,
		EstimatesTotal,
		JobErrorsTotal,
		ProviderBreakerOpensTotal,
	)
}
