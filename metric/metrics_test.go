package cascademetric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetrics_String(t *testing.T) {
	m := Metrics{
		"a": 1,
		"b": 2,
		"c": 3,
	}

	require.Equal(
		t,
		m.String(),
		` - a: 1
 - b: 2
 - c: 3
`,
	)
}

func TestMetrics_Add(t *testing.T) {
	m := Metrics{"rowsRead": 3, "rowsWritten": 1}
	m.Add(Metrics{"rowsRead": 2, "blocksWritten": 4})

	require.Equal(t, Metrics{
		"rowsRead":      5,
		"rowsWritten":   1,
		"blocksWritten": 4,
	}, m)
}

func TestMetrics_AddPrefix(t *testing.T) {
	m := Metrics{"rowsRead": 3, "rowsWritten": 1}

	require.Equal(t, Metrics{
		"count/rowsRead":    3,
		"count/rowsWritten": 1,
	}, m.AddPrefix("count/"))
}

func TestRepository(t *testing.T) {
	r := NewRepository()
	r.AddMetric("rowsRead", 3)
	r.AddMetric("rowsRead", 2)
	r.SetMetric("partitions", 8)
	r.SetMetric("partitions", 4)

	require.Equal(t, Metrics{
		"rowsRead":   5,
		"partitions": 4,
	}, r.Collect())
}
