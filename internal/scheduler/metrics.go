package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lsphost",
		Subsystem: "scheduler",
		Name:      "pending_tasks",
		Help:      "Number of tasks waiting to be admitted.",
	})
	executingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lsphost",
		Subsystem: "scheduler",
		Name:      "executing_tasks",
		Help:      "Number of tasks currently executing.",
	})
	usedCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lsphost",
		Subsystem: "scheduler",
		Name:      "used_capacity",
		Help:      "Summed estimated CPU core count of executing tasks.",
	})
)
