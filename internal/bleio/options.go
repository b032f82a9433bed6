package bleio

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/dcdl/internal/device"
)

// Options tunes one bridge.
type Options struct {
	// PollTimeout is the default for polls issued with a zero timeout and the
	// deadline of reads waiting for data. Negative waits for data indefinitely.
	PollTimeout time.Duration `default:"1200ms"`
	// Tick is the granularity of timeout checks.
	Tick time.Duration `default:"10ms"`
	// ConnectTimeout bounds dial plus GATT discovery in OpenSyncAdapter.
	ConnectTimeout time.Duration `default:"30s"`
	// NotifyBacklog is the number of notifications queued ahead of the loop.
	NotifyBacklog int `default:"64"`
	// Catalog selects the service to talk to; nil means device.KnownServices.
	Catalog *device.Catalog
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollTimeout < 0 {
		o.PollTimeout = 0
	} else if o.PollTimeout == 0 {
		o.PollTimeout = d.PollTimeout
	}
	if o.Tick <= 0 {
		o.Tick = d.Tick
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.NotifyBacklog <= 0 {
		o.NotifyBacklog = d.NotifyBacklog
	}
	if o.Catalog == nil {
		o.Catalog = device.KnownServices()
	}
	return o
}
