package payment

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

var (
	initiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanbot",
		Subsystem: "payment",
		Name:      "initiations_total",
		Help:      "Charge requests sent to the gateway, by result.",
	}, []string{"result"})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanbot",
		Subsystem: "payment",
		Name:      "resolutions_total",
		Help:      "Payments moved to a terminal status, by source and status.",
	}, []string{"source", "status"})

	ignoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanbot",
		Subsystem: "payment",
		Name:      "observations_ignored_total",
		Help:      "Observations that did not change state, by source and reason.",
	}, []string{"source", "reason"})

	pollQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanbot",
		Subsystem: "payment",
		Name:      "poll_queries_total",
		Help:      "Status queries issued by the poller, by result.",
	}, []string{"result"})

	stillPendingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loanbot",
		Subsystem: "payment",
		Name:      "still_pending_total",
		Help:      "Polls that exhausted their budget with the payment still pending.",
	})

	activePolls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loanbot",
		Subsystem: "payment",
		Name:      "active_polls",
		Help:      "Status polls currently running.",
	})
)

// Stats is a point-in-time view of one Reconciler's counters.
type Stats struct {
	Initiated    int64
	Confirmed    int64
	Failed       int64
	StillPending int64
	Ignored      int64
	ActivePolls  int
}

type counters struct {
	initiated    atomic.Int64
	confirmed    atomic.Int64
	failed       atomic.Int64
	stillPending atomic.Int64
	ignored      atomic.Int64
}
