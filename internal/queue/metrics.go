package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pendingDepth tracks the number of unfinished entries per queue.
var pendingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "lsphost",
	Subsystem: "queue",
	Name:      "pending_depth",
	Help:      "Number of enqueued closures that have not finished cleanup.",
}, []string{"queue"})
