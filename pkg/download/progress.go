package download

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/state"
)

type syncer interface {
	Sync() error
}

// aggregator is the single owner of the progress record. It applies worker updates in
// delivery order and persists them on a fixed cadence, syncing the artifact before each save
// so the record never claims bytes that are not durable.
type aggregator struct {
	file     syncer
	path     string
	store    *state.Store
	record   *state.Record
	interval time.Duration
	cancel   context.CancelCauseFunc

	size        int64
	startBytes  int64
	start       time.Time
	lastLog     time.Time
	logInterval time.Duration
}

func newAggregator(file syncer, path string, store *state.Store, record *state.Record, interval time.Duration, cancel context.CancelCauseFunc) *aggregator {
	size := int64(-1)
	if record.Size != nil {
		size = *record.Size
	}
	now := time.Now()
	return &aggregator{
		file:        file,
		path:        path,
		store:       store,
		record:      record,
		interval:    interval,
		cancel:      cancel,
		size:        size,
		startBytes:  record.Written(),
		start:       now,
		lastLog:     now,
		logInterval: progressLogInterval,
	}
}

// run consumes updates until the channel is closed. A storage failure cancels the transfer
// with that failure as the cause; updates are still drained so workers never block.
func (a *aggregator) run(updates <-chan update) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	var failed error
	dirty := false
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				if dirty && failed == nil {
					failed = a.flush()
				}
				return failed
			}
			a.record.Segments[u.segment].Written = u.written
			dirty = true
		case <-ticker.C:
			if dirty && failed == nil {
				if err := a.flush(); err != nil {
					failed = err
					a.cancel(err)
				}
				dirty = false
			}
			a.logProgress()
		}
	}
}

func (a *aggregator) flush() error {
	if err := a.file.Sync(); err != nil {
		return &StorageError{Op: "sync", Path: a.path, Err: err}
	}
	if err := a.store.Save(a.record); err != nil {
		return &StorageError{Op: "save", Path: a.store.Path(), Err: err}
	}
	return nil
}

func (a *aggregator) logProgress() {
	now := time.Now()
	if now.Sub(a.lastLog) < a.logInterval {
		return
	}
	a.lastLog = now

	written := a.record.Written()
	elapsed := now.Sub(a.start).Seconds()
	throughput := humanize.Bytes(uint64(float64(max(written-a.startBytes, 0)) / elapsed))
	logger := logging.GetLogger()
	event := logger.Info().
		Str("written", humanize.Bytes(uint64(written))).
		Str("throughput", fmt.Sprintf("%s/s", throughput))
	if a.size > 0 {
		event = event.
			Str("size", humanize.Bytes(uint64(a.size))).
			Str("progress", fmt.Sprintf("%.1f%%", float64(written)*100/float64(a.size)))
	}
	event.Msg("Progress")
}
