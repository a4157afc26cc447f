package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/fragment"
	"github.com/tanq16/splitfetch/internal/testutil"
)

func TestReassemblyRoundTrip(t *testing.T) {
	data := testutil.Payload(1000)
	plan, err := fragment.PlanFragments(1000, 3)
	require.NoError(t, err)
	assert.Equal(t, []fragment.Range{
		{Index: 0, Start: 0, End: 333},
		{Index: 1, Start: 334, End: 667},
		{Index: 2, Start: 668, End: 999},
	}, plan.Ranges)

	buf := newReassemblyBuffer(plan.Length)
	ids := make([]bridge.TaskID, len(plan.Ranges))
	for i, r := range plan.Ranges {
		ids[i] = bridge.NewTaskID()
		buf.register(ids[i], r)
	}
	// land in reverse order
	for i := len(plan.Ranges) - 1; i >= 0; i-- {
		r := plan.Ranges[i]
		landed, err := buf.append(ids[i], data[r.Start:r.End+1])
		require.NoError(t, err)
		assert.True(t, landed)
		assert.Equal(t, i == 0, buf.complete())
	}
	out := buf.assemble()
	assert.Len(t, out, 1000)
	assert.Equal(t, data, out)
}

func TestReassemblyRoundTripAllCounts(t *testing.T) {
	data := testutil.Payload(777)
	for count := 1; count <= 50; count++ {
		plan, err := fragment.PlanFragments(int64(len(data)), count)
		require.NoError(t, err)
		buf := newReassemblyBuffer(plan.Length)
		active := plan.Active()
		ids := make([]bridge.TaskID, len(active))
		for i, r := range active {
			ids[i] = bridge.NewTaskID()
			buf.register(ids[i], r)
		}
		for i := len(active) - 1; i >= 0; i-- {
			r := active[i]
			// two chunks per range
			mid := r.Start + r.Len()/2
			_, err := buf.append(ids[i], data[r.Start:mid])
			require.NoError(t, err)
			_, err = buf.append(ids[i], data[mid:r.End+1])
			require.NoError(t, err)
		}
		require.True(t, buf.complete(), "count %d", count)
		require.Equal(t, data, buf.assemble(), "count %d", count)
	}
}

func TestReassemblyCompletionIsPerRange(t *testing.T) {
	buf := newReassemblyBuffer(10)
	a, b := bridge.NewTaskID(), bridge.NewTaskID()
	buf.register(a, fragment.Range{Index: 0, Start: 0, End: 4})
	buf.register(b, fragment.Range{Index: 1, Start: 5, End: 9})

	_, err := buf.append(a, []byte("abc"))
	require.NoError(t, err)
	_, err = buf.append(b, []byte("fghij"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), buf.transferred())
	assert.False(t, buf.complete())

	_, err = buf.append(a, []byte("de!"))
	assert.ErrorIs(t, err, ErrFragmentOverflow)
	assert.False(t, buf.complete())

	_, err = buf.append(b, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownTask, "landed ranges accept nothing more")
}

func TestReassemblyClosedPartDropsBytes(t *testing.T) {
	buf := newReassemblyBuffer(4)
	id := bridge.NewTaskID()
	buf.register(id, fragment.Range{Start: 0, End: 3})
	buf.close(id)
	_, err := buf.append(id, []byte("ab"))
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Zero(t, buf.transferred())
	assert.False(t, buf.complete())
}

func TestReassemblyResetRefillsPart(t *testing.T) {
	buf := newReassemblyBuffer(6)
	a, b := bridge.NewTaskID(), bridge.NewTaskID()
	buf.register(a, fragment.Range{Index: 0, Start: 0, End: 2})
	buf.register(b, fragment.Range{Index: 1, Start: 3, End: 5})

	_, err := buf.append(a, []byte("ab"))
	require.NoError(t, err)
	assert.False(t, buf.hasLanded(a))
	buf.reset(a)
	assert.Zero(t, buf.transferred())

	landed, err := buf.append(a, []byte("abc"))
	require.NoError(t, err)
	assert.True(t, landed)
	assert.True(t, buf.hasLanded(a))

	buf.reset(a)
	assert.True(t, buf.hasLanded(a), "landed parts keep their bytes")
	_, err = buf.append(b, []byte("def"))
	require.NoError(t, err)
	require.True(t, buf.complete())
	assert.Equal(t, []byte("abcdef"), buf.assemble())
}
