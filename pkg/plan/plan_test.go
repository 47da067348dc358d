package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/plan"
	"github.com/replicate/rget/pkg/state"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func rangedResource(size int64) *client.Resource {
	return &client.Resource{
		URL:          "https://example.com/file",
		Size:         size,
		AcceptRanges: true,
		Validator:    client.Validator{ETag: `"v1"`},
	}
}

func TestFreshPlanCoversResource(t *testing.T) {
	sizes := []int64{1, 2, 7, 999, 1000, 1001, 4096, 65_537, 1 << 20, 10_000_000, 1<<30 + 3}
	parallelism := []int{1, 2, 3, 4, 7, 16, 64, 1000}
	minSegmentSizes := []int64{1, 100, 4096, 1 << 20}

	for _, size := range sizes {
		for _, par := range parallelism {
			for _, minSeg := range minSegmentSizes {
				p := plan.Fresh(rangedResource(size), plan.Options{MaxParallelism: par, MinSegmentSize: minSeg})
				require.NoError(t, p.Validate(), "size=%d par=%d min=%d", size, par, minSeg)
				assert.LessOrEqual(t, len(p.Segments), par)
				assert.GreaterOrEqual(t, len(p.Segments), 1)
				if len(p.Segments) > 1 {
					for _, seg := range p.Segments {
						assert.GreaterOrEqual(t, seg.Span(), minSeg)
					}
				}
				for i, seg := range p.Segments {
					assert.Equal(t, i, seg.ID)
					assert.Zero(t, seg.Written)
				}
				assert.False(t, p.Resumed)
			}
		}
	}
}

func TestFreshPlan(t *testing.T) {
	p := plan.Fresh(rangedResource(10_000_000), plan.Options{MaxParallelism: 4, MinSegmentSize: 1 << 20})
	require.Len(t, p.Segments, 4)
	expected := [][2]int64{{0, 2_499_999}, {2_500_000, 4_999_999}, {5_000_000, 7_499_999}, {7_500_000, 9_999_999}}
	for i, seg := range p.Segments {
		assert.Equal(t, expected[i][0], seg.Start)
		assert.Equal(t, expected[i][1], seg.End)
		assert.Equal(t, int64(2_500_000), seg.Span())
	}
}

func TestFreshPlanMinimumSegmentSize(t *testing.T) {
	p := plan.Fresh(rangedResource(3<<20), plan.Options{MaxParallelism: 16, MinSegmentSize: 1 << 20})
	assert.Len(t, p.Segments, 3)

	p = plan.Fresh(rangedResource(1000), plan.Options{MaxParallelism: 16, MinSegmentSize: 1 << 20})
	require.Len(t, p.Segments, 1)
	assert.Equal(t, int64(999), p.Segments[0].End)
}

func TestFreshPlanSingleSegment(t *testing.T) {
	opts := plan.Options{MaxParallelism: 8, MinSegmentSize: 1}

	noRanges := rangedResource(5000)
	noRanges.AcceptRanges = false
	p := plan.Fresh(noRanges, opts)
	require.Len(t, p.Segments, 1)
	assert.Equal(t, plan.Segment{ID: 0, Start: 0, End: 4999}, p.Segments[0])
	assert.True(t, p.SingleSegment())
	require.NoError(t, p.Validate())

	unknown := rangedResource(-1)
	p = plan.Fresh(unknown, opts)
	require.Len(t, p.Segments, 1)
	assert.Equal(t, int64(-1), p.Size)
	assert.Equal(t, int64(-1), p.Segments[0].End)
	assert.Equal(t, int64(-1), p.Segments[0].Span())
	assert.False(t, p.Segments[0].Done())
	require.NoError(t, p.Validate())
}

func TestFreshPlanEmptyResource(t *testing.T) {
	for _, ranges := range []bool{true, false} {
		res := rangedResource(0)
		res.AcceptRanges = ranges
		p := plan.Fresh(res, plan.Options{MaxParallelism: 4, MinSegmentSize: 1})
		assert.Empty(t, p.Segments)
		assert.Equal(t, int64(0), p.Size)
		require.NoError(t, p.Validate())
	}
}

func priorRecord() *state.Record {
	return &state.Record{
		Version:   state.CurrentVersion,
		URL:       "https://example.com/file",
		Validator: `"v1"`,
		Size:      int64Ptr(10_000_000),
		Segments: []state.Segment{
			{Start: 0, End: 2_499_999, Written: 2_500_000},
			{Start: 2_500_000, End: 4_999_999, Written: 1_000_000},
			{Start: 5_000_000, End: 7_499_999},
			{Start: 7_500_000, End: 9_999_999},
		},
	}
}

func TestComputeResumes(t *testing.T) {
	// a different parallelism must not move the persisted boundaries
	p := plan.Compute(rangedResource(10_000_000), priorRecord(), plan.Options{MaxParallelism: 16, MinSegmentSize: 1})
	require.True(t, p.Resumed)
	require.Len(t, p.Segments, 4)
	require.NoError(t, p.Validate())

	assert.True(t, p.Segments[0].Done())
	assert.Equal(t, int64(3_500_000), p.Segments[1].Offset())
	assert.Equal(t, int64(4_999_999), p.Segments[1].End)
	assert.Equal(t, int64(3_500_000), p.Written())
}

func TestComputeDiscardsPrior(t *testing.T) {
	tests := []struct {
		name   string
		res    func() *client.Resource
		prior  func() *state.Record
		reason string
	}{
		{
			name: "validator changed",
			res: func() *client.Resource {
				res := rangedResource(10_000_000)
				res.Validator.ETag = `"v2"`
				return res
			},
			prior:  priorRecord,
			reason: "validator changed",
		},
		{
			name:   "size changed",
			res:    func() *client.Resource { return rangedResource(10_000_001) },
			prior:  priorRecord,
			reason: "size changed",
		},
		{
			name: "range support lost",
			res: func() *client.Resource {
				res := rangedResource(10_000_000)
				res.AcceptRanges = false
				return res
			},
			prior:  priorRecord,
			reason: "range",
		},
		{
			name: "no validator",
			res: func() *client.Resource {
				res := rangedResource(10_000_000)
				res.Validator = client.Validator{}
				return res
			},
			prior:  priorRecord,
			reason: "no validator",
		},
		{
			name: "unknown length",
			res:  func() *client.Resource { return rangedResource(-1) },
			prior: func() *state.Record {
				r := priorRecord()
				r.Size = nil
				r.Segments = []state.Segment{{Start: 0, End: -1, Written: 10}}
				return r
			},
			reason: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, prior := tt.res(), tt.prior()
			err := plan.CheckResume(res, prior)
			var planErr *plan.Error
			require.ErrorAs(t, err, &planErr)
			assert.Contains(t, planErr.Error(), tt.reason)

			p := plan.Compute(res, prior, plan.Options{MaxParallelism: 4, MinSegmentSize: 1})
			assert.False(t, p.Resumed)
			assert.Zero(t, p.Written())
			require.NoError(t, p.Validate())
		})
	}
}

func TestCheckResumeWeakETag(t *testing.T) {
	res := rangedResource(10_000_000)
	res.Validator.ETag = `W/"v1"`
	assert.NoError(t, plan.CheckResume(res, priorRecord()))
}

func TestValidateRejects(t *testing.T) {
	plans := []plan.Plan{
		{Size: 10, Segments: []plan.Segment{{Start: 0, End: 4}, {Start: 4, End: 9}}},
		{Size: 10, Segments: []plan.Segment{{Start: 0, End: 4}, {Start: 6, End: 9}}},
		{Size: 10, Segments: []plan.Segment{{Start: 0, End: 4}}},
		{Size: 10, Segments: []plan.Segment{{Start: 0, End: 9, Written: 11}}},
		{Size: -1, Segments: []plan.Segment{{Start: 0, End: 9}}},
		{Size: 0, Segments: []plan.Segment{{Start: 0, End: 0}}},
	}
	for _, p := range plans {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}
