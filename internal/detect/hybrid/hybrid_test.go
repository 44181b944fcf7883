package hybrid

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy2234/gopnik/internal/boxes"
	"github.com/happy2234/gopnik/internal/pii"
)

func blankImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestDetectDispatchesBothEngines(t *testing.T) {
	e := New(DefaultConfig())
	col, errs := e.Detect(context.Background(), Input{
		Image:      blankImage(64, 64),
		Text:       "jane.doe@example.com",
		PageNumber: 0,
	})
	assert.Empty(t, errs)
	found := false
	for _, d := range col.All() {
		if d.Type == pii.TypeEmail {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSupportedTypesUnionsEnabledEngines(t *testing.T) {
	e := New(DefaultConfig())
	types := e.SupportedTypes()
	assert.Contains(t, types, pii.TypeFace)
	assert.Contains(t, types, pii.TypeEmail)

	cfg := DefaultConfig()
	cfg.EnableCV = false
	e.Configure(cfg)
	types = e.SupportedTypes()
	assert.NotContains(t, types, pii.TypeFace)
	assert.Contains(t, types, pii.TypeEmail)
}

func TestCrossValidateBoostsCompatiblePair(t *testing.T) {
	box, err := boxes.New(10, 10, 110, 110)
	require.NoError(t, err)
	overlapping, err := boxes.New(20, 20, 120, 120)
	require.NoError(t, err)

	face, err := pii.New(pii.TypeFace, box, 0.8, 0, pii.MethodCV)
	require.NoError(t, err)
	name, err := pii.New(pii.TypeName, overlapping, 0.7, 0, pii.MethodNLP)
	require.NoError(t, err)

	cvDets, nlpDets := crossValidate([]pii.Detection{face}, []pii.Detection{name}, 0.3, 0.1)
	require.Len(t, cvDets, 1)
	require.Len(t, nlpDets, 1)
	assert.InDelta(t, 0.9, cvDets[0].Confidence, 0.0001)
	assert.InDelta(t, 0.8, nlpDets[0].Confidence, 0.0001)
	assert.Equal(t, true, cvDets[0].Metadata["cross_validated"])
}

func TestMergeByTypeAndIoUMergesOverlapping(t *testing.T) {
	a, err := boxes.New(0, 0, 100, 100)
	require.NoError(t, err)
	b, err := boxes.New(10, 10, 110, 110)
	require.NoError(t, err)

	d1, err := pii.New(pii.TypeFace, a, 0.6, 0, pii.MethodCV)
	require.NoError(t, err)
	d2, err := pii.New(pii.TypeFace, b, 0.7, 0, pii.MethodCV)
	require.NoError(t, err)

	merged := mergeByTypeAndIoU([]pii.Detection{d1, d2}, 0.3)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.7, merged[0].Confidence)
	assert.Equal(t, true, merged[0].Metadata["hybrid_merged"])
}

func TestCapPerTypeLimitsCount(t *testing.T) {
	var dets []pii.Detection
	for i := 0; i < 15; i++ {
		box, err := boxes.New(i*10, 0, i*10+5, 5)
		require.NoError(t, err)
		d, err := pii.New(pii.TypeEmail, box, float64(i)/20+0.1, 0, pii.MethodNLP)
		require.NoError(t, err)
		dets = append(dets, d)
	}
	capped := capPerType(dets, 10)
	assert.Len(t, capped, 10)
}

func TestRankingScoreSensitiveBonus(t *testing.T) {
	box, err := boxes.New(0, 0, 10, 10)
	require.NoError(t, err)
	ssn, err := pii.New(pii.TypeSSN, box, 0.6, 0, pii.MethodNLP)
	require.NoError(t, err)
	email, err := pii.New(pii.TypeEmail, box, 0.6, 0, pii.MethodNLP)
	require.NoError(t, err)
	assert.Greater(t, RankingScore(ssn), RankingScore(email))
}
