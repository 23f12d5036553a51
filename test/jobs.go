package test

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/driftlab/cascade"
	"github.com/driftlab/cascade/lineage"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Computations are plain struct types so they can be shipped to workers by
// name. Shared counters live at package level; driver and workers run in
// the same process in these tests.

var _ = cascade.RegisterTypes(
	&NumberSource{}, &WordSource{},
	&Multiply{}, SumByKey{}, SumCombiner{},
	&AlwaysFail{}, &Flaky{}, &Sleeper{}, Blocker{},
)

// NumberSource emits RowsPerPartition consecutive integers per partition.
// Every read increments SourceReads, which lets tests observe whether a
// stage actually recomputed or reused cached shuffle output.
type NumberSource struct {
	RowsPerPartition int `json:"rowsPerPartition"`
}

var SourceReads = atomic.NewInt64(0)

func (s *NumberSource) Read(_ context.Context, partition int) ([]lineage.Row, error) {
	SourceReads.Inc()
	rows := make([]lineage.Row, s.RowsPerPartition)
	for i := range rows {
		n := partition*s.RowsPerPartition + i
		rows[i] = lineage.Row{Key: strconv.Itoa(n), Value: []byte(strconv.Itoa(n))}
	}
	return rows, nil
}

// WordSource emits each word Repeats times per partition with value 1.
type WordSource struct {
	Words   []string `json:"words"`
	Repeats int      `json:"repeats"`
}

func (s *WordSource) Read(_ context.Context, _ int) ([]lineage.Row, error) {
	SourceReads.Inc()
	var rows []lineage.Row
	for _, w := range s.Words {
		for i := 0; i < s.Repeats; i++ {
			rows = append(rows, lineage.Row{Key: w, Value: []byte("1")})
		}
	}
	return rows, nil
}

// Multiply multiplies every integer value by Factor.
type Multiply struct {
	Factor int `json:"factor"`
}

func (m *Multiply) Apply(_ context.Context, _ int, in []lineage.Row) ([]lineage.Row, error) {
	out := make([]lineage.Row, len(in))
	for i, row := range in {
		n, err := strconv.Atoi(string(row.Value))
		if err != nil {
			return nil, err
		}
		out[i] = lineage.Row{Key: row.Key, Value: []byte(strconv.Itoa(n * m.Factor))}
	}
	return out, nil
}

// SumByKey sums integer values per key. Input values may already be
// partial sums produced by SumCombiner.
type SumByKey struct{}

func (SumByKey) Apply(_ context.Context, _ int, in []lineage.Row) ([]lineage.Row, error) {
	sums := make(map[string]int)
	var order []string
	for _, row := range in {
		n, err := strconv.Atoi(string(row.Value))
		if err != nil {
			return nil, err
		}
		if _, seen := sums[row.Key]; !seen {
			order = append(order, row.Key)
		}
		sums[row.Key] += n
	}
	out := make([]lineage.Row, 0, len(sums))
	for _, k := range order {
		out = append(out, lineage.Row{Key: k, Value: []byte(strconv.Itoa(sums[k]))})
	}
	return out, nil
}

// SumCombiner adds two partial integer sums.
type SumCombiner struct{}

func (SumCombiner) Combine(a, b []byte) []byte {
	x, _ := strconv.Atoi(string(a))
	y, _ := strconv.Atoi(string(b))
	return []byte(strconv.Itoa(x + y))
}

// AlwaysFail fails every attempt.
type AlwaysFail struct {
	Message string `json:"message"`
}

func (f *AlwaysFail) Apply(context.Context, int, []lineage.Row) ([]lineage.Row, error) {
	return nil, errors.New(f.Message)
}

var (
	flakyAttempts   = map[string]int{}
	flakyAttemptsMu sync.Mutex
)

// Flaky fails the first Failures attempts sharing its Key, then passes
// rows through untouched.
type Flaky struct {
	Key      string `json:"key"`
	Failures int    `json:"failures"`
}

func (f *Flaky) Apply(_ context.Context, _ int, in []lineage.Row) ([]lineage.Row, error) {
	flakyAttemptsMu.Lock()
	flakyAttempts[f.Key]++
	attempt := flakyAttempts[f.Key]
	flakyAttemptsMu.Unlock()

	if attempt <= f.Failures {
		return nil, errors.Errorf("flaky %s: attempt %d", f.Key, attempt)
	}
	return in, nil
}

// Sleeper delays every partition by the given duration.
type Sleeper struct {
	Ms int `json:"ms"`
}

func (s *Sleeper) Apply(ctx context.Context, _ int, in []lineage.Row) ([]lineage.Row, error) {
	select {
	case <-time.After(time.Duration(s.Ms) * time.Millisecond):
		return in, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Blocker never finishes until the task is cancelled.
type Blocker struct{}

func (Blocker) Apply(ctx context.Context, _ int, _ []lineage.Row) ([]lineage.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// MultiplyGraph is a map-only pipeline: numbers multiplied by factor.
func MultiplyGraph(numPartitions, rowsPerPartition, factor int) (*lineage.Graph, lineage.NodeID) {
	g := lineage.NewGraph()
	src := g.AddSource("numbers", &NumberSource{RowsPerPartition: rowsPerPartition}, numPartitions)
	out := g.AddTransform("multiply", &Multiply{Factor: factor}, src)
	return g, out
}

// RoutedWordCountGraph counts word occurrences using a finite key
// partitioner, so each word deterministically owns a reduce partition.
func RoutedWordCountGraph(numPartitions int, words []string, repeats int) (*lineage.Graph, lineage.NodeID) {
	g := lineage.NewGraph()
	src := g.AddSource("words", &WordSource{Words: words, Repeats: repeats}, numPartitions)
	count := g.AddShuffle("route", SumByKey{}, len(words),
		lineage.NewFiniteKeyPartitioner(words), src)
	return g, count
}

// WordCountGraph counts word occurrences across partitions through one
// shuffle, with map-side combining.
func WordCountGraph(numPartitions, reducers int, words []string, repeats int) (*lineage.Graph, lineage.NodeID) {
	g := lineage.NewGraph()
	src := g.AddSource("words", &WordSource{Words: words, Repeats: repeats}, numPartitions)
	count := g.AddShuffle("count", SumByKey{}, reducers, lineage.NewHashKeyPartitioner(), src)
	g.WithCombiner(count, SumCombiner{})
	return g, count
}
