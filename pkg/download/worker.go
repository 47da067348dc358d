package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/plan"
)

const copyBufferSize = 256 * 1024

// Fetcher is the part of the transport a transfer depends on. *client.Client implements it.
type Fetcher interface {
	Probe(ctx context.Context, url string) (*client.Resource, error)
	FetchRange(ctx context.Context, url string, start, end int64) (*client.RangeResponse, error)
	Backoff(attempt int) time.Duration
}

var _ Fetcher = &client.Client{}

type SegmentState int

const (
	Pending SegmentState = iota
	Requesting
	Streaming
	Retrying
	Completed
	Failed
)

func (s SegmentState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Requesting:
		return "requesting"
	case Streaming:
		return "streaming"
	case Retrying:
		return "retrying"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("SegmentState(%d)", int(s))
	}
}

// update carries the absolute written count of one segment. Updates of a segment are
// applied in the order they are sent.
type update struct {
	segment int
	written int64
	state   SegmentState
}

// worker owns one segment. It is the only writer of its byte range and of its counter.
type worker struct {
	fetcher  Fetcher
	resource *client.Resource
	file     io.WriterAt
	path     string
	seg      plan.Segment
	// whole is set when the segment is the entire resource, so a 200 reply is acceptable.
	whole bool

	retries        int
	reportSize     int64
	reportInterval time.Duration
	updates        chan<- update

	state      SegmentState
	reported   int64
	lastReport time.Time
	logger     zerolog.Logger
}

func (w *worker) run(ctx context.Context) error {
	w.logger = logging.GetLogger().With().Int("segment", w.seg.ID).Logger()
	w.lastReport = time.Now()
	w.reported = w.seg.Written

	attempt := 0
	for {
		if w.seg.Done() {
			w.finish(Completed)
			return nil
		}
		w.state = Requesting
		progressed, err := w.stream(ctx)
		if err == nil {
			w.finish(Completed)
			return nil
		}
		if ctx.Err() != nil || !client.IsRetryable(err) {
			w.finish(Failed)
			return err
		}
		if progressed {
			attempt = 0
		}
		attempt++
		if attempt > w.retries {
			w.finish(Failed)
			return fmt.Errorf("segment %d failed after %d retries: %w", w.seg.ID, w.retries, err)
		}

		w.state = Retrying
		backoff := w.fetcher.Backoff(attempt)
		w.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int64("written", w.seg.Written).
			Dur("backoff", backoff).
			Msg("Retrying")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.finish(Failed)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// stream runs one request for the rest of the segment. progressed reports whether any bytes
// were written.
func (w *worker) stream(ctx context.Context) (progressed bool, err error) {
	offset := w.seg.Offset()
	end := w.seg.End
	if w.whole && offset == 0 {
		end = -1
	}
	w.logger.Debug().Int64("start", offset).Int64("end", end).Msg("Requesting")

	rr, err := w.fetcher.FetchRange(ctx, w.resource.URL, offset, end)
	if err != nil {
		return false, err
	}
	defer rr.Body.Close()

	if w.resource.Validator.Conflicts(rr.Validator) {
		return false, fmt.Errorf("segment %d: %w: %s, now %s", w.seg.ID, client.ErrResourceChanged, w.resource.Validator, rr.Validator)
	}
	if rr.Partial && w.resource.SizeKnown() && rr.Total >= 0 && rr.Total != w.resource.Size {
		return false, fmt.Errorf("segment %d: %w: size %d, now %d", w.seg.ID, client.ErrResourceChanged, w.resource.Size, rr.Total)
	}
	if !rr.Partial {
		if !w.whole {
			return false, ErrRangeIgnored
		}
		if offset != 0 {
			w.logger.Warn().Int64("written", w.seg.Written).Msg("Server ignored range request, restarting from zero")
			offset = 0
			w.seg.Written = 0
			w.report()
		}
	}

	w.state = Streaming
	var body io.Reader = rr.Body
	if w.seg.End >= 0 {
		body = io.LimitReader(rr.Body, w.seg.End+1-offset)
	}

	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return progressed, err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.file.WriteAt(buf[:n], offset); err != nil {
				return progressed, &StorageError{Op: "write", Path: w.path, Err: err}
			}
			offset += int64(n)
			w.seg.Written += int64(n)
			progressed = true
			w.maybeReport()
		}
		if errors.Is(readErr, io.EOF) {
			if w.seg.End >= 0 && !w.seg.Done() {
				return progressed, &client.TransportError{
					Op:        "read",
					URL:       w.resource.URL,
					Retryable: true,
					Err:       io.ErrUnexpectedEOF,
				}
			}
			return progressed, nil
		}
		if readErr != nil {
			return progressed, readErr
		}
	}
}

func (w *worker) maybeReport() {
	if w.seg.Written-w.reported >= w.reportSize || time.Since(w.lastReport) >= w.reportInterval {
		w.report()
	}
}

func (w *worker) report() {
	w.updates <- update{segment: w.seg.ID, written: w.seg.Written, state: w.state}
	w.reported = w.seg.Written
	w.lastReport = time.Now()
}

func (w *worker) finish(s SegmentState) {
	w.state = s
	w.report()
	w.logger.Debug().Stringer("state", s).Int64("written", w.seg.Written).Msg("Segment finished")
}
