package cluster

import (
	"time"

	"github.com/creasty/defaults"
)

type Options struct {
	ConnectTimeout    time.Duration `default:"3s"`
	ConnectRetryCount int           `default:"3"`
	ConnectRetryDelay time.Duration `default:"300ms"`

	// MaxMessageSize is the maximum gRPC message size in bytes. Shuffle
	// blocks stream in chunks well below it; the default is 64mb.
	MaxMessageSize int `default:"67108864"`

	// Compressor names a registered gRPC compressor ("lz4" to compress
	// inter-node block transfer). Empty disables compression.
	Compressor string

	// LivenessProbeInterval is the TTL of a node's registration lease.
	// A worker that misses renewal for this long is declared lost.
	LivenessProbeInterval time.Duration `default:"10s"`

	TLSCertPath       string
	TLSCertServerName string
}

func DefaultOptions() (o Options) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}

type ListOption struct {
	Tag map[string]string
}
