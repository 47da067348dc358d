package state

import (
	"errors"
	"fmt"
	"strings"
)

// CurrentVersion is the sidecar schema version this build reads and writes.
const CurrentVersion = 1

var ErrInconsistent = errors.New("inconsistent progress record")

// Segment is the persisted form of one planned byte range. End is inclusive, -1 when the
// resource length is unknown.
type Segment struct {
	Start   int64 `json:"start"`
	End     int64 `json:"end"`
	Written int64 `json:"written"`
}

// Span is the number of bytes the segment covers, -1 if open ended.
func (s Segment) Span() int64 {
	if s.End < 0 {
		return -1
	}
	return s.End - s.Start + 1
}

// Record is the content of the sidecar file.
type Record struct {
	Version    int    `json:"version"`
	TransferID string `json:"transfer_id"`
	URL        string `json:"url"`
	// Validator is the resource version the progress belongs to, see client.Validator.
	Validator string `json:"validator"`
	// Size is nil when the server did not announce a length.
	Size     *int64    `json:"size"`
	Segments []Segment `json:"segments"`
	Checksum uint64    `json:"checksum" hash:"ignore"`
}

// Validate checks the record describes contiguous, non overlapping segments covering
// exactly [0, size) with every written count inside its segment.
func (r *Record) Validate() error {
	if r.Version != CurrentVersion {
		return fmt.Errorf("%w: version %d", ErrInconsistent, r.Version)
	}
	if r.Size == nil {
		if len(r.Segments) != 1 || r.Segments[0].Start != 0 || r.Segments[0].End != -1 || r.Segments[0].Written < 0 {
			return fmt.Errorf("%w: unknown size requires a single open segment", ErrInconsistent)
		}
		return nil
	}
	size := *r.Size
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInconsistent, size)
	}
	var next int64
	for i, seg := range r.Segments {
		if seg.Start != next || seg.End < seg.Start {
			return fmt.Errorf("%w: segment %d [%d, %d] does not continue at %d", ErrInconsistent, i, seg.Start, seg.End, next)
		}
		if seg.Written < 0 || seg.Written > seg.Span() {
			return fmt.Errorf("%w: segment %d has %d bytes written of %d", ErrInconsistent, i, seg.Written, seg.Span())
		}
		next = seg.End + 1
	}
	if next != size {
		return fmt.Errorf("%w: segments cover %d of %d bytes", ErrInconsistent, next, size)
	}
	return nil
}

// Matches reports whether the record belongs to the resource version identified by
// validator and size. An empty validator never matches.
func (r *Record) Matches(validator string, size int64) bool {
	if validator == "" || r.Size == nil || *r.Size != size {
		return false
	}
	return strings.TrimPrefix(r.Validator, "W/") == strings.TrimPrefix(validator, "W/")
}

// Written is the number of bytes recorded as durable across all segments.
func (r *Record) Written() int64 {
	var total int64
	for _, seg := range r.Segments {
		total += seg.Written
	}
	return total
}
