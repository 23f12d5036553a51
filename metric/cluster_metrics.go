package cascademetric

import (
	"github.com/driftlab/cascade/cluster/node"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var RunningJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cascade_running_jobs",
	Help: "The current number of running jobs",
})

var JobDurationSummary = promauto.NewSummary(prometheus.SummaryOpts{
	Name: "cascade_job_duration_sec",
	Help: "Job execution duration in seconds",
})

var RunningTasksGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "cascade_running_tasks",
	Help: "The current number of tasks running on a worker",
}, []string{"host"})

var TaskRetriesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cascade_task_retries_total",
	Help: "The number of task attempts launched after a failure",
})

var SpeculativeLaunchesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cascade_speculative_launches_total",
	Help: "The number of speculative duplicate attempts launched",
})

var RecomputedPartitionsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cascade_recomputed_partitions_total",
	Help: "The number of map partitions recomputed after a worker loss",
})

var ShuffleWrittenBytesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cascade_shuffle_written_bytes_total",
	Help: "The number of shuffle block bytes written by a worker",
}, []string{"host"})

func WorkerLabelValuesFrom(n *node.Node) prometheus.Labels {
	return prometheus.Labels{"host": n.Host}
}
