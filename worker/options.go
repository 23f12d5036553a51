package worker

import (
	"runtime"

	"github.com/creasty/defaults"
	"github.com/driftlab/cascade/shuffle"
)

type Options struct {
	ListenHost     string `default:"127.0.0.1:7466"`
	AdvertisedHost string `default:"127.0.0.1:7466"`

	// Slots is the number of tasks the worker runs concurrently.
	// By default, it will be the number of CPUs in the machine.
	Slots int `default:"-"`

	// NodeTags are published with the node registration. The scheduler uses
	// the "rack" tag for locality decisions.
	NodeTags map[string]string `default:"{}"`

	// MaxMessageSize specifies the maximum message size in bytes the gRPC
	// server can receive/send. The default value is 64mb.
	MaxMessageSize int `default:"67108864"`

	Shuffle shuffle.ReaderOptions
}

func DefaultOptions() (o Options) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	o.SetDefaults()
	return
}

func (o *Options) SetDefaults() {
	if defaults.CanUpdate(o.Slots) {
		o.Slots = runtime.NumCPU()
	}
}
