package job

import (
	"time"

	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/planner"
)

// Job is one externally requested computation: the full set of stages
// derived from a target lineage node. Jobs own no mutable state shared with
// other jobs; shuffle output outlives them only through the shuffle registry.
type Job struct {
	ID string `json:"id"`

	// Graph is the lineage the job was planned from. Recomputation after
	// data loss always replays this graph, never a snapshot.
	Graph  *lineage.Graph   `json:"-"`
	Target lineage.NodeID   `json:"target"`
	Stages []*planner.Stage `json:"stages"`

	SubmittedAt time.Time `json:"submittedAt"`
}

func New(id string, g *lineage.Graph, target lineage.NodeID, stages []*planner.Stage) *Job {
	return &Job{
		ID:          id,
		Graph:       g,
		Target:      target,
		Stages:      stages,
		SubmittedAt: time.Now(),
	}
}

// GetStage returns the stage with the given ID, or nil.
func (j *Job) GetStage(id string) *planner.Stage {
	for _, s := range j.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ResultStage returns the job's final stage.
func (j *Job) ResultStage() *planner.Stage {
	return j.Stages[len(j.Stages)-1]
}

// ResultShuffleID is the block namespace a job's result partitions are
// stored under on the workers that computed them, until the driver
// collects them.
func ResultShuffleID(jobID string) string {
	return "result/" + jobID
}
