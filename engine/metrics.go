package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for worker-group categories.
const (
	categoryNormal = "normal"
	categoryCopy   = "copy"
)

func categoryLabel(prop FnProperty) string {
	if prop.IsCopy() {
		return categoryCopy
	}
	return categoryNormal
}

var (
	dispatchInlineTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devexec_dispatch_inline_total",
			Help: "Number of Async blocks executed inline on the dispatching thread.",
		},
	)

	dispatchQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devexec_dispatch_queued_total",
			Help: "Number of blocks enqueued to a worker group.",
		},
		[]string{"device_kind", "category"},
	)

	executedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devexec_executed_blocks_total",
			Help: "Number of operation blocks executed to completion.",
		},
		[]string{"device_kind"},
	)

	workerGroupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devexec_worker_groups_created_total",
			Help: "Number of accelerator worker groups created lazily.",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(dispatchInlineTotal)
	prometheus.MustRegister(dispatchQueuedTotal)
	prometheus.MustRegister(executedTotal)
	prometheus.MustRegister(workerGroupsTotal)

	// Pre-initialize label combinations so they show up with value 0 from
	// startup, rather than only after the first observation.
	for _, category := range []string{categoryNormal, categoryCopy} {
		dispatchQueuedTotal.WithLabelValues(Accelerator.String(), category)
		workerGroupsTotal.WithLabelValues(category)
	}
	dispatchQueuedTotal.WithLabelValues(CPU.String(), categoryNormal)
	executedTotal.WithLabelValues(CPU.String())
	executedTotal.WithLabelValues(Accelerator.String())
}
