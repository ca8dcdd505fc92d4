package rle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameValue(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func combineEqual(target []uint64) func([]uint64) bool {
	return func(existing []uint64) bool { return sameValue(existing, target) }
}

func TestRegisterRunCoalescesEqualValues(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.RegisterRun([]uint64{5}, 3, combineEqual([]uint64{5})))
	require.NoError(t, tbl.RegisterRun([]uint64{5}, 2, combineEqual([]uint64{5})))
	require.NoError(t, tbl.RegisterRun([]uint64{7}, 4, combineEqual([]uint64{7})))

	assert.Equal(t, 2, tbl.NumRows())
	assert.EqualValues(t, 9, tbl.NumSamples())
	assert.EqualValues(t, 4, tbl.Rows()[0].LastSeen)
	assert.EqualValues(t, 8, tbl.Rows()[1].LastSeen)
}

func TestRegisterRunRejectsNegative(t *testing.T) {
	tbl := New(1)
	err := tbl.RegisterRun([]uint64{1}, -1, nil)
	assert.Error(t, err)
}

func TestTranslateAndGet(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.RegisterRun([]uint64{1}, 5, combineEqual([]uint64{1})))
	require.NoError(t, tbl.RegisterRun([]uint64{2}, 5, combineEqual([]uint64{2})))

	for i := int64(0); i < 5; i++ {
		row, idx, err := tbl.Get(i)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
		assert.EqualValues(t, []uint64{1}, row.Value)
	}
	for i := int64(5); i < 10; i++ {
		row, idx, err := tbl.Get(i)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
		assert.EqualValues(t, []uint64{2}, row.Value)
	}

	_, _, err := tbl.Get(10)
	assert.Error(t, err)
	_, _, err = tbl.Get(-1)
	assert.Error(t, err)
}

func TestOverwriteSingletonRow(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.RegisterRun([]uint64{1}, 1, combineEqual([]uint64{1})))

	require.NoError(t, tbl.Overwrite(0, []uint64{9}, func(a, b []uint64) bool { return sameValue(a, b) }))
	row, _, err := tbl.Get(0)
	require.NoError(t, err)
	assert.EqualValues(t, []uint64{9}, row.Value)
}

func TestOverwriteSplitsAndCoalesces(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.RegisterRun([]uint64{1}, 3, combineEqual([]uint64{1})))

	require.NoError(t, tbl.Overwrite(1, []uint64{9}, func(a, b []uint64) bool { return sameValue(a, b) }))

	assert.Equal(t, 3, tbl.NumRows())
	r0, _, _ := tbl.Get(0)
	r1, _, _ := tbl.Get(1)
	r2, _, _ := tbl.Get(2)
	assert.EqualValues(t, []uint64{1}, r0.Value)
	assert.EqualValues(t, []uint64{9}, r1.Value)
	assert.EqualValues(t, []uint64{1}, r2.Value)

	require.NoError(t, tbl.Overwrite(1, []uint64{1}, func(a, b []uint64) bool { return sameValue(a, b) }))
	assert.Equal(t, 1, tbl.NumRows())
}

func TestPopOneDropsEmptyRow(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.RegisterRun([]uint64{1}, 2, combineEqual([]uint64{1})))
	require.NoError(t, tbl.RegisterRun([]uint64{2}, 1, combineEqual([]uint64{2})))

	v, dropped, err := tbl.PopOne()
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.EqualValues(t, []uint64{2}, v)
	assert.Equal(t, 1, tbl.NumRows())
	assert.EqualValues(t, 2, tbl.NumSamples())

	v, dropped, err = tbl.PopOne()
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.EqualValues(t, []uint64{1}, v)
	assert.EqualValues(t, 1, tbl.NumSamples())
}

func TestAppendZeroWidthRow(t *testing.T) {
	tbl := New(1)
	tbl.AppendZeroWidthRow([]uint64{100})
	assert.EqualValues(t, 0, tbl.NumSamples())
	assert.Equal(t, 1, tbl.NumRows())
	assert.EqualValues(t, noSamplesYet, tbl.Rows()[0].LastSeen)

	require.NoError(t, tbl.RegisterRun(nil, 1, func([]uint64) bool { return true }))
	assert.EqualValues(t, 1, tbl.NumSamples())

	tbl.AppendZeroWidthRow([]uint64{200})
	assert.EqualValues(t, 1, tbl.NumSamples())
	assert.Equal(t, 2, tbl.NumRows())
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := New(1)
	require.NoError(t, tbl.RegisterRun([]uint64{1}, 3, combineEqual([]uint64{1})))
	clone := tbl.Clone()
	require.NoError(t, tbl.Overwrite(0, []uint64{9}, func(a, b []uint64) bool { return sameValue(a, b) }))

	assert.True(t, tbl.Equal(tbl))
	assert.False(t, tbl.Equal(clone))
}
