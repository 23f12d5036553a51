package scheduler

import (
	"time"

	"github.com/creasty/defaults"
)

type Options struct {
	// MaxTaskAttempts bounds execution failures per (stage, partition).
	// Attempts lost to worker failure do not count against it.
	MaxTaskAttempts int `default:"3"`

	// Tick drives speculation checks and deferred scheduling passes.
	Tick time.Duration `default:"100ms"`

	// SpeculationQuantile is the fraction of a stage's tasks that must be
	// done before stragglers are considered for speculation.
	SpeculationQuantile float64 `default:"0.75"`

	// SpeculationMultiplier: a running task is a straggler once its elapsed
	// time exceeds this multiple of the stage's median task duration.
	SpeculationMultiplier float64 `default:"1.5"`

	// LocalityWaitHost is how long a task waits for a free slot on a
	// preferred host before settling for its rack.
	LocalityWaitHost time.Duration `default:"3s"`

	// LocalityWaitRack is how long a task waits at rack level before
	// running anywhere.
	LocalityWaitRack time.Duration `default:"3s"`
}

func DefaultOptions() (o Options) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}
