package test

import (
	"testing"
	"time"

	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/test/testutils"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCachedShuffleOutputReuse(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When the same lineage is submitted twice", func() {
			g1, t1 := WordCountGraph(4, 2, []string{"foo", "bar"}, 25)
			rj1, err := cluster.Engine.Submit(ctx, g1, t1)
			So(err, ShouldBeNil)
			testutils.MustCollect(ctx, rj1)

			readsAfterFirst := SourceReads.Load()

			g2, t2 := WordCountGraph(4, 2, []string{"foo", "bar"}, 25)
			rj2, err := cluster.Engine.Submit(ctx, g2, t2)
			So(err, ShouldBeNil)
			rows := testutils.MustCollect(ctx, rj2)

			Convey("The second job should reuse the registered shuffle output", func() {
				So(SourceReads.Load(), ShouldEqual, readsAfterFirst)

				counts := make(map[string]int)
				for _, row := range rows {
					counts[row.Key] = testutils.IntValue(row)
				}
				So(counts, ShouldResemble, map[string]int{"foo": 100, "bar": 100})
			})
		})
	})
}

func TestLostShuffleOutputIsRecomputedFromLineage(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When shuffle blocks vanish between two submissions", func() {
			g1, t1 := WordCountGraph(4, 2, []string{"foo", "bar", "baz"}, 25)
			rj1, err := cluster.Engine.Submit(ctx, g1, t1)
			So(err, ShouldBeNil)
			testutils.MustCollect(ctx, rj1)

			// drop the materialized blocks everywhere; the registry still
			// believes the output exists
			shuffleID := rj1.Job.Stages[0].ShuffleID
			So(shuffleID, ShouldNotBeEmpty)
			for _, w := range cluster.Workers {
				w.DropShuffle(shuffleID)
			}
			readsAfterFirst := SourceReads.Load()

			g2, t2 := WordCountGraph(4, 2, []string{"foo", "bar", "baz"}, 25)
			rj2, err := cluster.Engine.Submit(ctx, g2, t2)
			So(err, ShouldBeNil)
			rows := testutils.MustCollect(ctx, rj2)

			Convey("Fetch failures should trigger recomputation of exactly the lost lineage", func() {
				So(SourceReads.Load(), ShouldBeGreaterThan, readsAfterFirst)

				counts := make(map[string]int)
				for _, row := range rows {
					counts[row.Key] = testutils.IntValue(row)
				}
				// recomputed output must be identical to the lost output
				So(counts, ShouldResemble, map[string]int{
					"foo": 100, "bar": 100, "baz": 100,
				})
				So(rj2.Status().State, ShouldEqual, job.Succeeded)
			})
		})
	})
}

func TestLostWorkerMapOutputsRecomputedSelectively(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout(60 * time.Second)

		Convey("When a worker holding registered map output dies mid-reduce", func() {
			g := lineage.NewGraph()
			src := g.AddSource("words", &WordSource{Words: []string{"foo", "bar"}, Repeats: 10}, 4)
			count := g.AddShuffle("count", SumByKey{}, 2, lineage.NewHashKeyPartitioner(), src)
			target := g.AddTransform("slow", &Sleeper{Ms: 1000}, count)

			readsBefore := SourceReads.Load()
			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			// let the map stage register its output, then kill a worker
			// while the reduces are still sleeping
			time.Sleep(600 * time.Millisecond)
			So(cluster.StopWorker(ctx, cluster.Workers[1]), ShouldBeNil)

			Convey("Only the dead worker's map partitions should be recomputed", func() {
				rows := testutils.MustCollect(ctx, rj)

				counts := make(map[string]int)
				for _, row := range rows {
					counts[row.Key] = testutils.IntValue(row)
				}
				So(counts, ShouldResemble, map[string]int{"foo": 40, "bar": 40})
				So(rj.Status().State, ShouldEqual, job.Succeeded)

				reads := SourceReads.Load() - readsBefore
				So(reads, ShouldBeGreaterThan, 4)
				// the surviving worker's map outputs must be reused
				So(reads, ShouldBeLessThan, 8)
			})
		})
	})
}

func TestWorkerLossMidJob(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout(60 * time.Second)

		Convey("When a worker dies while its tasks are running", func() {
			g := lineage.NewGraph()
			src := g.AddSource("numbers", &NumberSource{RowsPerPartition: 10}, 4)
			slow := g.AddTransform("slow", &Sleeper{Ms: 800}, src)
			target := g.AddTransform("multiply", &Multiply{Factor: 2}, slow)

			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			time.Sleep(250 * time.Millisecond)
			So(cluster.StopWorker(ctx, cluster.Workers[1]), ShouldBeNil)

			Convey("The surviving worker should rerun the lost tasks", func() {
				rows := testutils.MustCollect(ctx, rj)
				So(rows, ShouldHaveLength, 40)

				sum := 0
				for _, row := range rows {
					sum += testutils.IntValue(row)
				}
				So(sum, ShouldEqual, 2*39*40/2)
				So(rj.Status().State, ShouldEqual, job.Succeeded)
			})
		})
	})
}
