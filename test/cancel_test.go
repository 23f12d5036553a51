package test

import (
	"testing"
	"time"

	"github.com/driftlab/cascade"
	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/test/testutils"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCancelRunningJob(t *testing.T) {
	Convey("Given running workers", t, func(c C) {
		cluster, stop := testutils.StartLocalCluster(c, 2)
		defer stop()
		ctx := testutils.ContextWithTimeout()

		Convey("When cancelling a job whose tasks never finish", func() {
			g := lineage.NewGraph()
			src := g.AddSource("numbers", &NumberSource{RowsPerPartition: 10}, 2)
			target := g.AddTransform("block", Blocker{}, src)

			rj, err := cluster.Engine.Submit(ctx, g, target)
			So(err, ShouldBeNil)

			go func() {
				time.Sleep(300 * time.Millisecond)
				rj.Cancel()
			}()

			Convey("Wait should return ErrCancelled", func() {
				So(rj.Wait(ctx), ShouldEqual, cascade.ErrCancelled)
				So(rj.Status().State, ShouldEqual, job.Cancelled)
			})

			Convey("Its stages and tasks should end up Cancelled, not Running", func() {
				So(rj.Wait(ctx), ShouldEqual, cascade.ErrCancelled)

				for _, stage := range rj.Job.Stages {
					progress, ok := rj.StageProgress(stage.ID)
					So(ok, ShouldBeTrue)
					So(progress.State, ShouldEqual, job.Cancelled)
					So(progress.TaskCounts[job.Running], ShouldEqual, 0)
					So(progress.TaskCounts[job.Cancelled], ShouldBeGreaterThan, 0)
				}
			})
		})
	})
}
