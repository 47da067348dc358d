package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/plan"
	"github.com/replicate/rget/pkg/state"
)

// Result describes a completed transfer.
type Result struct {
	Path       string
	URL        string
	TransferID string
	// Size is the number of bytes in the published artifact.
	Size     int64
	Segments int
	Resumed  bool
	// ResumedBytes were already on disk when the run started.
	ResumedBytes int64
	Elapsed      time.Duration
	// ContentType is the media type the server announced, empty if none.
	ContentType string
}

// Transfer drives a single resource to a validated artifact on disk.
type Transfer struct {
	fetcher Fetcher
	opts    Options
}

func NewTransfer(fetcher Fetcher, opts Options) *Transfer {
	return &Transfer{fetcher: fetcher, opts: opts}
}

// Run fetches url to dest. On failure the progress record for dest is kept so a later run
// resumes, unless the failure was an integrity error.
func (t *Transfer) Run(ctx context.Context, url, dest string) (*Result, error) {
	logger := logging.GetLogger()
	start := time.Now()

	res, err := t.fetcher.Probe(ctx, url)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("url", res.URL).
		Int64("size", res.Size).
		Bool("accept_ranges", res.AcceptRanges).
		Str("validator", res.Validator.String()).
		Msg("Probe")

	fresh := t.opts.Restart
	for retried := false; ; retried = true {
		result, err := t.run(ctx, res, dest, fresh)
		if err == nil {
			result.Elapsed = time.Since(start)
			return result, nil
		}
		if retried || ctx.Err() != nil {
			return nil, err
		}
		switch {
		case errors.Is(err, ErrRangeIgnored):
			logger.Warn().Str("url", url).Msg("Server ignored range request, falling back to a single segment")
		case client.IsStale(err):
			logger.Warn().Err(err).Str("url", url).Msg("Progress is stale, restarting transfer")
		default:
			return nil, err
		}

		// the server's view has changed under us; describe it again before starting over
		ignored := errors.Is(err, ErrRangeIgnored)
		res, err = t.fetcher.Probe(ctx, url)
		if err != nil {
			return nil, err
		}
		if ignored {
			res.AcceptRanges = false
		}
		fresh = true
	}
}

func (t *Transfer) run(ctx context.Context, res *client.Resource, dest string, fresh bool) (*Result, error) {
	logger := logging.GetLogger()
	art := newArtifact(dest)
	store := state.NewStore(SidecarPath(dest))
	opts := plan.Options{MaxParallelism: t.opts.maxConcurrency(), MinSegmentSize: t.opts.minSegmentSize()}

	var prior *state.Record
	if !fresh {
		prior = store.Load()
	}
	if prior != nil {
		if err := plan.CheckResume(res, prior); err != nil {
			logger.Info().Err(err).Str("dest", dest).Msg("Discarding progress record")
			prior = nil
		}
	}
	p := plan.Compute(res, prior, opts)
	if p.Resumed && art.partSize() != p.Size {
		logger.Warn().Str("path", art.part).Msg("Partial file missing or resized, starting fresh")
		p = plan.Fresh(res, opts)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segment plan: %w", err)
	}

	record := &state.Record{
		TransferID: uuid.NewString(),
		URL:        res.URL,
		Validator:  res.Validator.String(),
		Segments:   make([]state.Segment, len(p.Segments)),
	}
	if p.Resumed {
		record.TransferID = prior.TransferID
	}
	if p.Size >= 0 {
		size := p.Size
		record.Size = &size
	}
	for i, seg := range p.Segments {
		record.Segments[i] = state.Segment{Start: seg.Start, End: seg.End, Written: seg.Written}
	}

	if p.Resumed {
		logger.Info().
			Str("transfer_id", record.TransferID).
			Int64("written", p.Written()).
			Int64("size", p.Size).
			Int("segments", len(p.Segments)).
			Msg("Resuming")
	} else {
		logger.Info().
			Str("transfer_id", record.TransferID).
			Str("url", res.URL).
			Int64("size", p.Size).
			Int("segments", len(p.Segments)).
			Msg("Initiating")
	}

	file, err := art.open(p.Resumed, p.Size)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := store.Save(record); err != nil {
		return nil, &StorageError{Op: "save", Path: store.Path(), Err: err}
	}

	if err := t.fetchSegments(ctx, res, p, file, art.part, store, record); err != nil {
		return nil, err
	}

	size := p.Size
	if size < 0 {
		size = record.Written()
		if err := file.Truncate(size); err != nil {
			return nil, &StorageError{Op: "truncate", Path: art.part, Err: err}
		}
	}
	if err := file.Sync(); err != nil {
		return nil, &StorageError{Op: "sync", Path: art.part, Err: err}
	}
	if err := file.Close(); err != nil {
		return nil, &StorageError{Op: "close", Path: art.part, Err: err}
	}

	if err := verify(art.part, size, record.Written(), t.digests(res)); err != nil {
		var integrityErr *IntegrityError
		if errors.As(err, &integrityErr) {
			logger.Error().Err(err).Str("dest", dest).Msg("Discarding artifact")
			_ = art.discard()
			_ = store.Clear()
		}
		return nil, err
	}
	if err := art.publish(); err != nil {
		return nil, err
	}
	if err := store.Clear(); err != nil {
		return nil, &StorageError{Op: "remove", Path: store.Path(), Err: err}
	}

	return &Result{
		Path:         dest,
		URL:          res.URL,
		TransferID:   record.TransferID,
		Size:         size,
		Segments:     len(p.Segments),
		Resumed:      p.Resumed,
		ResumedBytes: p.Written(),
		ContentType:  res.ContentType,
	}, nil
}

// fetchSegments runs a worker for every unfinished segment and waits for all of them. The
// record is updated in place by the aggregator.
func (t *Transfer) fetchSegments(ctx context.Context, res *client.Resource, p *plan.Plan, file *os.File, path string, store *state.Store, record *state.Record) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	updates := make(chan update, len(p.Segments))
	agg := newAggregator(file, path, store, record, t.opts.stateInterval(), cancel)
	aggDone := make(chan error, 1)
	go func() {
		aggDone <- agg.run(updates)
	}()

	errGroup, groupCtx := errgroup.WithContext(ctx)
	errGroup.SetLimit(t.opts.maxConcurrency())
	for _, seg := range p.Segments {
		if seg.Done() {
			continue
		}
		w := &worker{
			fetcher:        t.fetcher,
			resource:       res,
			file:           file,
			path:           path,
			seg:            seg,
			whole:          p.SingleSegment(),
			retries:        t.opts.Retries,
			reportSize:     t.opts.reportSize(),
			reportInterval: t.opts.stateInterval(),
			updates:        updates,
		}
		errGroup.Go(func() error {
			return w.run(groupCtx)
		})
	}
	err := errGroup.Wait()
	close(updates)
	if aggErr := <-aggDone; aggErr != nil {
		return aggErr
	}
	return err
}

func (t *Transfer) digests(res *client.Resource) []*client.Digest {
	var digests []*client.Digest
	if res.Digest != nil {
		digests = append(digests, res.Digest)
	}
	if t.opts.Checksum != nil {
		digests = append(digests, t.opts.Checksum)
	}
	return digests
}
