package test

import (
	"sync"
	"testing"

	"github.com/driftlab/cascade/test/testutils"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConcurrentJobsShareTheWorkerPool(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When multiple jobs run at once", func() {
			factors := []int{2, 3, 5}
			sums := make([]int, len(factors))

			var wg sync.WaitGroup
			for i, factor := range factors {
				i, factor := i, factor
				wg.Add(1)
				go func() {
					defer wg.Done()
					g, target := MultiplyGraph(2, 50, factor)
					rj, err := cluster.Engine.Submit(ctx, g, target)
					c.So(err, ShouldBeNil)

					rows, err := testutils.Collect(ctx, rj)
					c.So(err, ShouldBeNil)
					for _, row := range rows {
						sums[i] += testutils.IntValue(row)
					}
				}()
			}
			wg.Wait()

			Convey("Every job should produce its own complete result", func() {
				base := 99 * 100 / 2
				for i, factor := range factors {
					So(sums[i], ShouldEqual, factor*base)
				}
			})
		})
	})
}
