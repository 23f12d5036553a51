package cascade

import (
	"github.com/creasty/defaults"
	"github.com/driftlab/cascade/cluster"
	"github.com/driftlab/cascade/coordinator"
	"github.com/driftlab/cascade/scheduler"
	"github.com/driftlab/cascade/worker"
)

type Option func(op *Options)

type Options struct {
	EtcdEndpoints []string `default:"[\"127.0.0.1:2379\"]"`
	EtcdNamespace string   `default:"cascade/"`
	EtcdOptions   coordinator.EtcdOptions
	Cluster       cluster.Options
	Scheduler     scheduler.Options
	Worker        worker.Options
}

func DefaultOptions() (o Options) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}

func WithEtcd(endpoints []string, namespace string) Option {
	return func(o *Options) {
		o.EtcdEndpoints = endpoints
		o.EtcdNamespace = namespace
	}
}

func WithSchedulerOptions(opt scheduler.Options) Option {
	return func(o *Options) {
		o.Scheduler = opt
	}
}

func WithWorkerOptions(opt worker.Options) Option {
	return func(o *Options) {
		o.Worker = opt
	}
}

func buildOptions(opts []Option) (o Options) {
	o = DefaultOptions()
	for _, optFn := range opts {
		optFn(&o)
	}
	return o
}
