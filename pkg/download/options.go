package download

import (
	"runtime"
	"time"

	"github.com/replicate/rget/pkg/client"
)

const (
	defaultMinSegmentSize = 1024 * 1024
	defaultReportSize     = 4 * 1024 * 1024
	defaultStateInterval  = time.Second
	progressLogInterval   = 5 * time.Second
)

type Options struct {
	// Maximum number of segments fetched at once. If set to zero, GOMAXPROCS*4 will be used.
	MaxConcurrency int

	// Minimum number of bytes per segment. If set to zero, 1 MiB will be used.
	MinSegmentSize int64

	// Retries is the number of consecutive failed attempts a segment tolerates.
	Retries int

	// A worker reports progress after ReportSize bytes or StateInterval, whichever comes
	// first. The sidecar is saved every StateInterval.
	ReportSize    int64
	StateInterval time.Duration

	// Checksum is an expected digest of the whole resource, verified in addition to any
	// digest the server announces.
	Checksum *client.Digest

	// Restart ignores any existing progress record.
	Restart bool
}

func (o Options) maxConcurrency() int {
	if o.MaxConcurrency <= 0 {
		return runtime.GOMAXPROCS(0) * 4
	}
	return o.MaxConcurrency
}

func (o Options) minSegmentSize() int64 {
	if o.MinSegmentSize <= 0 {
		return defaultMinSegmentSize
	}
	return o.MinSegmentSize
}

func (o Options) reportSize() int64 {
	if o.ReportSize <= 0 {
		return defaultReportSize
	}
	return o.ReportSize
}

func (o Options) stateInterval() time.Duration {
	if o.StateInterval <= 0 {
		return defaultStateInterval
	}
	return o.StateInterval
}
