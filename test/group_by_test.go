package test

import (
	"testing"

	"github.com/driftlab/cascade/test/testutils"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWordCount(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When counting words through a shuffle with a combiner", func() {
			g, target := WordCountGraph(4, 2, []string{"foo", "bar", "baz"}, 50)
			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			Convey("Each word should be counted across all partitions", func() {
				rows := testutils.MustCollect(ctx, rj)
				So(rows, ShouldHaveLength, 3)

				counts := make(map[string]int)
				for _, row := range rows {
					counts[row.Key] = testutils.IntValue(row)
				}
				So(counts, ShouldResemble, map[string]int{
					"foo": 200, "bar": 200, "baz": 200,
				})
			})
		})

		Convey("When keys are routed by a finite key partitioner", func() {
			g, target := RoutedWordCountGraph(2, []string{"hot", "cold"}, 10)
			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			Convey("Counts should still be complete", func() {
				rows := testutils.MustCollect(ctx, rj)
				grouped := testutils.GroupByKey(rows)
				So(grouped, ShouldHaveLength, 2)
				So(testutils.IntValue(grouped["hot"][0]), ShouldEqual, 20)
				So(testutils.IntValue(grouped["cold"][0]), ShouldEqual, 20)
			})
		})
	})
}
