package redact

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy2234/gopnik/internal/boxes"
	"github.com/happy2234/gopnik/internal/pii"
	"github.com/happy2234/gopnik/internal/profile"
)

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func detectionAt(t *testing.T, x1, y1, x2, y2 int, typ pii.Type) pii.Detection {
	t.Helper()
	box, err := boxes.New(x1, y1, x2, y2)
	require.NoError(t, err)
	d, err := pii.New(typ, box, 0.9, 0, pii.MethodCV)
	require.NoError(t, err)
	return d
}

func TestApplyRedactionsSkipsDisabledTypes(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "in.png")

	prof := profile.New("test", "")
	prof.VisualRules["face"] = false

	e := New()
	_, stats, _, err := e.ApplyRedactions(path, []pii.Detection{detectionAt(t, 10, 10, 30, 30, pii.TypeFace)}, prof, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedDetections)
	assert.Equal(t, 0, stats.RedactedDetections)
}

func TestApplyRedactionsSkipsBelowConfidenceThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "in.png")

	prof := profile.New("test", "")
	prof.VisualRules["face"] = true
	prof.ConfidenceThreshold = profile.Threshold64(0.95)

	e := New()
	_, stats, _, err := e.ApplyRedactions(path, []pii.Detection{detectionAt(t, 10, 10, 30, 30, pii.TypeFace)}, prof, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedDetections)
}

func TestApplyRedactionsAppliesToImage(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "in.png")

	prof := profile.New("test", "")
	prof.VisualRules["face"] = true
	prof.ConfidenceThreshold = profile.Threshold64(0.5)
	prof.RedactionStyle = profile.StyleSolidBlack

	e := New()
	out, stats, _, err := e.ApplyRedactions(path, []pii.Detection{detectionAt(t, 10, 10, 30, 30, pii.TypeFace)}, prof, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RedactedDetections)
	require.FileExists(t, out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := img.At(15, 15).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
}

func TestApplyRedactionsSkipsOutOfRangePage(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "in.png")

	prof := profile.New("test", "")
	prof.VisualRules["face"] = true

	e := New()
	det := detectionAt(t, 10, 10, 30, 30, pii.TypeFace)
	det.PageNumber = 5

	_, stats, warnings, err := e.ApplyRedactions(path, []pii.Detection{det}, prof, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedDetections)
	assert.NotEmpty(t, warnings)
}

func TestReplacementForFallsBackToGenericPlaceholder(t *testing.T) {
	prof := profile.New("test", "")
	got := ReplacementFor(pii.TypeEmail, prof)
	assert.Equal(t, "[EMAIL REDACTED]", got)
}

func TestReplacementForUsesCustomRule(t *testing.T) {
	prof := profile.New("test", "")
	prof.CustomRules["email"] = profile.CustomRule{ReplacementText: "[HIDDEN]"}
	got := ReplacementFor(pii.TypeEmail, prof)
	assert.Equal(t, "[HIDDEN]", got)
}

func TestGridSizeScalesWithArea(t *testing.T) {
	assert.Equal(t, 32, gridSize(100))
	assert.Equal(t, 8, gridSize(300000))
}
