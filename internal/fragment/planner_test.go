package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFragments(t *testing.T) {
	tests := map[string]struct {
		length int64
		count  int
		want   []Range
	}{
		"thousand in three": {
			length: 1000,
			count:  3,
			want: []Range{
				{Index: 0, Start: 0, End: 333},
				{Index: 1, Start: 334, End: 667},
				{Index: 2, Start: 668, End: 999},
			},
		},
		"single fragment": {
			length: 10,
			count:  1,
			want:   []Range{{Index: 0, Start: 0, End: 9}},
		},
		"more fragments than bytes": {
			length: 2,
			count:  4,
			want: []Range{
				{Index: 0, Start: 0, End: 0},
				{Index: 1, Start: 1, End: 1},
				{Index: 2, Start: 2, End: 1},
				{Index: 3, Start: 2, End: 1},
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			plan, err := PlanFragments(tc.length, tc.count)
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan.Ranges)
			assert.Equal(t, tc.count, plan.Count)
		})
	}
}

func TestPlanFragmentsCoversResource(t *testing.T) {
	for length := int64(1); length <= 300; length += 7 {
		for count := 1; count <= 40; count++ {
			plan, err := PlanFragments(length, count)
			require.NoError(t, err)
			require.Len(t, plan.Ranges, count)

			var next int64
			for _, r := range plan.Active() {
				require.Equal(t, next, r.Start, "gap or overlap at L=%d F=%d", length, count)
				require.GreaterOrEqual(t, r.End, r.Start)
				next = r.End + 1
			}
			require.Equal(t, length, next, "L=%d F=%d", length, count)
		}
	}
}

func TestPlanFragmentsErrors(t *testing.T) {
	_, err := PlanFragments(100, 0)
	assert.ErrorIs(t, err, ErrInvalidFragmentCount)
	_, err = PlanFragments(100, -3)
	assert.ErrorIs(t, err, ErrInvalidFragmentCount)
	_, err = PlanFragments(-1, 4)
	assert.ErrorIs(t, err, ErrContentLengthUnavailable)
}

func TestPlanFragmentsZeroLength(t *testing.T) {
	plan, err := PlanFragments(0, 3)
	require.NoError(t, err)
	assert.Len(t, plan.Ranges, 3)
	assert.Empty(t, plan.Active())
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-333", Range{Start: 0, End: 333}.Header())
	assert.Equal(t, "bytes=512-", From(512).Header())
	assert.Equal(t, int64(-1), From(512).Len())
	assert.Equal(t, int64(334), Range{Start: 334, End: 667}.Len())
}

func TestParseContentRange(t *testing.T) {
	start, end, total, err := ParseContentRange("bytes 334-667/1000")
	require.NoError(t, err)
	assert.Equal(t, []int64{334, 667, 1000}, []int64{start, end, total})

	_, _, total, err = ParseContentRange("bytes 0-9/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)

	for _, bad := range []string{"", "bytes */1000", "items 0-1/2", "bytes 9-1/10", "bytes 0-x/10"} {
		_, _, _, err := ParseContentRange(bad)
		assert.ErrorIs(t, err, ErrInvalidContentRange, bad)
	}
}
