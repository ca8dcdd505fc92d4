package shapeenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario E (spec §8): register((5,5), 3); register((5,5), 2); register((3,3), 1)
// -> 2 rows with last-seens [4, 5]. encoder[4] == (5,5), encoder[5] == (3,3).
func TestShapeEncoderScenarioE(t *testing.T) {
	e := New(2)
	require.NoError(t, e.RegisterShape([]uint64{5, 5}, 3))
	require.NoError(t, e.RegisterShape([]uint64{5, 5}, 2))
	require.NoError(t, e.RegisterShape([]uint64{3, 3}, 1))

	assert.Equal(t, 2, e.Table().NumRows())
	assert.EqualValues(t, 4, e.Table().Rows()[0].LastSeen)
	assert.EqualValues(t, 5, e.Table().Rows()[1].LastSeen)

	s4, err := e.Shape(4)
	require.NoError(t, err)
	assert.EqualValues(t, []uint64{5, 5}, s4)

	s5, err := e.Shape(5)
	require.NoError(t, err)
	assert.EqualValues(t, []uint64{3, 3}, s5)
}

func TestShapeEncoderRejectsWrongDims(t *testing.T) {
	e := New(2)
	assert.Error(t, e.RegisterShape([]uint64{1, 2, 3}, 1))
}

func TestShapeEncoderMinMax(t *testing.T) {
	e := New(2)
	require.NoError(t, e.RegisterShape([]uint64{1, 1}, 1))
	require.NoError(t, e.RegisterShape([]uint64{99, 99}, 1))
	require.NoError(t, e.RegisterShape([]uint64{5, 200}, 1))

	min, max, ok := e.MinMax()
	require.True(t, ok)
	assert.EqualValues(t, []uint64{1, 1}, min)
	assert.EqualValues(t, []uint64{99, 200}, max)
}

func TestShapeEncoderSetShapeSplits(t *testing.T) {
	e := New(1)
	require.NoError(t, e.RegisterShape([]uint64{4}, 3))
	require.NoError(t, e.SetShape(1, []uint64{9}))

	s0, _ := e.Shape(0)
	s1, _ := e.Shape(1)
	s2, _ := e.Shape(2)
	assert.EqualValues(t, []uint64{4}, s0)
	assert.EqualValues(t, []uint64{9}, s1)
	assert.EqualValues(t, []uint64{4}, s2)
}

func TestShapeEncoderPop(t *testing.T) {
	e := New(1)
	require.NoError(t, e.RegisterShape([]uint64{4}, 2))
	require.NoError(t, e.Pop())
	assert.EqualValues(t, 1, e.NumSamples())
}
