package plan

import (
	"fmt"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/state"
)

// Error explains why a prior progress record cannot be resumed. It is informational: the
// transfer falls back to a fresh plan instead of failing.
type Error struct {
	Reason string
}

var _ error = &Error{}

func (e *Error) Error() string {
	return "cannot resume: " + e.Reason
}

// Segment is a contiguous byte range assigned to one worker. End is inclusive and -1 when the
// resource length is unknown.
type Segment struct {
	ID      int
	Start   int64
	End     int64
	Written int64
}

// Span is the number of bytes covered, -1 if open ended.
func (s Segment) Span() int64 {
	if s.End < 0 {
		return -1
	}
	return s.End - s.Start + 1
}

// Done reports whether every byte of a bounded segment is written.
func (s Segment) Done() bool {
	return s.End >= 0 && s.Written >= s.Span()
}

// Offset is the absolute position of the next byte to fetch.
func (s Segment) Offset() int64 {
	return s.Start + s.Written
}

type Plan struct {
	// Size is -1 when unknown.
	Size     int64
	Segments []Segment
	// Resumed is set when the segments come from a prior record.
	Resumed bool
}

// Written is the number of bytes already on disk according to the plan.
func (p *Plan) Written() int64 {
	var total int64
	for _, seg := range p.Segments {
		total += seg.Written
	}
	return total
}

// Validate checks that the segments are contiguous, non overlapping and cover exactly
// [0, Size).
func (p *Plan) Validate() error {
	if p.Size < 0 {
		if len(p.Segments) != 1 || p.Segments[0].Start != 0 || p.Segments[0].End != -1 {
			return fmt.Errorf("plan for unknown size must be one open segment, got %d segments", len(p.Segments))
		}
		return nil
	}
	var next int64
	for _, seg := range p.Segments {
		if seg.Start != next || seg.End < seg.Start {
			return fmt.Errorf("segment %d [%d, %d] does not continue at %d", seg.ID, seg.Start, seg.End, next)
		}
		if seg.Written < 0 || seg.Written > seg.Span() {
			return fmt.Errorf("segment %d has %d bytes written of %d", seg.ID, seg.Written, seg.Span())
		}
		next = seg.End + 1
	}
	if next != p.Size {
		return fmt.Errorf("segments cover %d of %d bytes", next, p.Size)
	}
	return nil
}

// SingleSegment reports whether the plan degrades to one worker streaming the whole resource.
func (p *Plan) SingleSegment() bool {
	return len(p.Segments) == 1 && p.Segments[0].Start == 0
}

type Options struct {
	MaxParallelism int
	MinSegmentSize int64
}

// CheckResume returns nil when prior can be resumed against res, and an *Error otherwise.
func CheckResume(res *client.Resource, prior *state.Record) error {
	if err := prior.Validate(); err != nil {
		return &Error{Reason: err.Error()}
	}
	validator := res.Validator.String()
	switch {
	case validator == "":
		return &Error{Reason: "server offers no validator"}
	case prior.Validator == "":
		return &Error{Reason: "progress record has no validator"}
	case !res.SizeKnown():
		return &Error{Reason: "resource length is unknown"}
	case prior.Size == nil:
		return &Error{Reason: "progress record has no size"}
	case *prior.Size != res.Size:
		return &Error{Reason: fmt.Sprintf("size changed from %d to %d", *prior.Size, res.Size)}
	case !prior.Matches(validator, res.Size):
		return &Error{Reason: fmt.Sprintf("validator changed from %s to %s", prior.Validator, validator)}
	case !res.AcceptRanges:
		return &Error{Reason: "server no longer supports range requests"}
	}
	return nil
}

// Compute produces the segment plan for res. A prior record that passes CheckResume is
// resumed with its boundaries untouched; anything else starts fresh.
func Compute(res *client.Resource, prior *state.Record, opts Options) *Plan {
	if prior != nil && CheckResume(res, prior) == nil {
		p := &Plan{Size: res.Size, Resumed: true}
		for i, seg := range prior.Segments {
			p.Segments = append(p.Segments, Segment{ID: i, Start: seg.Start, End: seg.End, Written: seg.Written})
		}
		return p
	}
	return Fresh(res, opts)
}

// Fresh splits the resource without regard to prior progress.
func Fresh(res *client.Resource, opts Options) *Plan {
	switch {
	case res.Size == 0:
		return &Plan{Size: 0}
	case !res.SizeKnown():
		return &Plan{Size: -1, Segments: []Segment{{ID: 0, Start: 0, End: -1}}}
	case !res.AcceptRanges:
		return &Plan{Size: res.Size, Segments: []Segment{{ID: 0, Start: 0, End: res.Size - 1}}}
	}

	minSegmentSize := max(opts.MinSegmentSize, 1)
	count := min(int64(max(opts.MaxParallelism, 1)), res.Size/minSegmentSize)
	count = max(count, 1)

	p := &Plan{Size: res.Size, Segments: make([]Segment, 0, count)}
	var start int64
	for i, size := range EqualSplit(res.Size, count) {
		p.Segments = append(p.Segments, Segment{ID: i, Start: start, End: start + size - 1})
		start += size
	}
	return p
}
