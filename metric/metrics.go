package cascademetric

import (
	"fmt"
	"sort"

	"github.com/thoas/go-funk"
)

// Metrics is a set of named counters collected while running a task. They
// are merged upward: task metrics into stage metrics, stage metrics into
// job metrics.
type Metrics map[string]uint64

// Add merges two metrics. When a key collides, it sums the two values.
func (m Metrics) Add(o Metrics) {
	for k, v := range o {
		m[k] += v
	}
}

// AddPrefix returns a new metric where all keys are prefixed with given prefix.
func (m Metrics) AddPrefix(p string) (prefixed Metrics) {
	prefixed = make(Metrics)
	for k, v := range m {
		prefixed[p+k] = v
	}
	return
}

func (m Metrics) String() string {
	keys := funk.Keys(m).([]string)
	sort.Strings(keys)

	metricLogs := ""
	for _, key := range keys {
		metricLogs += fmt.Sprintf(" - %s: %d\n", key, m[key])
	}
	return metricLogs
}
