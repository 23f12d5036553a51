package test

import (
	"testing"

	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/test/testutils"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMapOnlyJob(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When running a map-only pipeline", func() {
			g, target := MultiplyGraph(4, 100, 3)
			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			Convey("It should return every input row transformed", func() {
				rows := testutils.MustCollect(ctx, rj)
				So(rows, ShouldHaveLength, 400)

				sum := 0
				for _, row := range rows {
					So(testutils.IntValue(row)%3, ShouldEqual, 0)
					sum += testutils.IntValue(row)
				}
				// 3 * (0 + 1 + ... + 399)
				So(sum, ShouldEqual, 3*399*400/2)

				So(rj.Status().State, ShouldEqual, job.Succeeded)
				So(rj.Metrics()["multiply/rowsWritten"], ShouldEqual, 400)
			})

			Convey("It should publish one assignment record per task", func() {
				testutils.MustCollect(ctx, rj)

				items, err := cluster.Coordinator.Scan(ctx, job.TaskAssignmentPrefix(rj.Job.ID))
				So(err, ShouldBeNil)
				So(len(items), ShouldBeGreaterThanOrEqualTo, 4)

				var assigned job.Task
				So(items[0].Unmarshal(&assigned), ShouldBeNil)
				So(assigned.JobID, ShouldEqual, rj.Job.ID)
				So(assigned.WorkerHost, ShouldNotBeEmpty)
			})
		})

		Convey("When the graph is malformed", func() {
			g, _ := MultiplyGraph(4, 100, 3)

			Convey("Submit should fail synchronously", func() {
				_, err := cluster.Engine.Submit(ctx, g, 99)
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestResultsAreCollectedInPartitionOrder(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When collecting a multi-partition result", func() {
			g, target := MultiplyGraph(3, 10, 1)
			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			rows := testutils.MustCollect(ctx, rj)
			So(rows, ShouldHaveLength, 30)

			Convey("Rows should arrive partition by partition, in row order", func() {
				for i, row := range rows {
					So(testutils.IntValue(row), ShouldEqual, i)
				}
			})

			Convey("Collecting twice should fail", func() {
				_, err := rj.Results(ctx)
				So(err, ShouldNotBeNil)
			})
		})
	})
}
