package cv

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSupportedTypesRespectsConfig(t *testing.T) {
	d := New(Config{EnableFace: true, EnableBarcode: true})
	types := d.SupportedTypes()
	require.Len(t, types, 2)
}

func TestDetectOnBlankImageFindsNothing(t *testing.T) {
	img := solidImage(64, 64, color.White)
	d := New(DefaultConfig())
	col, errs := d.Detect(Input{Image: img, PageNumber: 0})
	assert.Empty(t, errs)
	assert.Equal(t, 0, col.Len())
}

func TestDetectFindsDarkSignatureRegion(t *testing.T) {
	img := solidImage(200, 300, color.White)
	for y := 220; y < 280; y++ {
		for x := 20; x < 180; x++ {
			img.Set(x, y, color.Black)
		}
	}
	d := New(DefaultConfig())
	col, _ := d.Detect(Input{Image: img, PageNumber: 1})
	found := false
	for _, det := range col.All() {
		if det.Type == "signature" {
			found = true
			assert.Equal(t, 1, det.PageNumber)
		}
	}
	assert.True(t, found)
}
