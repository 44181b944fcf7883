package boxes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0, 0, 10, 10)
	require.NoError(t, err)

	_, err = New(-1, 0, 10, 10)
	require.Error(t, err)

	_, err = New(10, 0, 10, 10)
	require.Error(t, err)
}

func TestDerivedFields(t *testing.T) {
	b, err := New(0, 0, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Width())
	assert.Equal(t, 20, b.Height())
	assert.Equal(t, 200, b.Area())
	cx, cy := b.Center()
	assert.Equal(t, 5, cx)
	assert.Equal(t, 10, cy)
}

func TestIoU(t *testing.T) {
	a, _ := New(0, 0, 10, 10)
	b, _ := New(5, 5, 15, 15)
	iou := a.IoU(b)
	assert.InDelta(t, 25.0/175.0, iou, 1e-9)

	c, _ := New(100, 100, 110, 110)
	assert.Equal(t, 0.0, a.IoU(c))
}

func TestUnionAndExpand(t *testing.T) {
	a, _ := New(0, 0, 10, 10)
	b, _ := New(5, 5, 20, 20)
	u := a.Union(b)
	assert.Equal(t, BoundingBox{X1: 0, Y1: 0, X2: 20, Y2: 20}, u)

	e := a.Expand(5)
	assert.Equal(t, BoundingBox{X1: 0, Y1: 0, X2: 15, Y2: 15}, e)
}

func TestMarshalRoundTrip(t *testing.T) {
	a, _ := New(1, 2, 3, 4)
	data, err := a.MarshalJSON()
	require.NoError(t, err)

	var b BoundingBox
	require.NoError(t, b.UnmarshalJSON(data))
	assert.Equal(t, a, b)
}
