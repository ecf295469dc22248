package operations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_submissions_total",
		Help: "Verification submissions by result.",
	}, []string{"result"})
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_decisions_total",
		Help: "Moderator decisions by outcome.",
	}, []string{"outcome"})
	classificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_classifications_total",
		Help: "Completed cohort classifications.",
	})
	revocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_cohort_revocations_total",
		Help: "Cohort roles revoked by the role lock guard.",
	})
	directNoticeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_direct_notice_failures_total",
		Help: "Best-effort direct notices that could not be delivered.",
	})
)
