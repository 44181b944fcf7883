package processor

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy2234/gopnik/internal/detect/hybrid"
	"github.com/happy2234/gopnik/internal/document"
	"github.com/happy2234/gopnik/internal/profile"
	"github.com/happy2234/gopnik/internal/redact"
)

func writeTestPNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
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

func writeDefaultProfile(t *testing.T, dir string) {
	t.Helper()
	p := profile.New("default", "test profile")
	p.VisualRules["face"] = true
	p.TextRules["email"] = true
	require.NoError(t, p.SaveYAML(filepath.Join(dir, "default.yaml")))
}

func newTestProcessor(t *testing.T) (*Processor, string) {
	t.Helper()
	dir := t.TempDir()
	writeDefaultProfile(t, dir)

	return New(
		document.NewAnalyzer(),
		hybrid.New(hybrid.DefaultConfig()),
		redact.New(),
		profile.NewManager(dir),
		nil,
		trace.NewNoopTracerProvider().Tracer("test"),
		zap.NewNop(),
	), dir
}

func TestProcessDocumentCompletesOnSupportedInput(t *testing.T) {
	proc, dir := newTestProcessor(t)
	imgPath := writeTestPNG(t, dir, "input.png")

	result := proc.ProcessDocument(context.Background(), imgPath, "default")
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.NotZero(t, result.CompletedAt)
	assert.Equal(t, 1, result.Metrics.PagesProcessed)
}

func TestProcessDocumentFailsOnMissingFile(t *testing.T) {
	proc, _ := newTestProcessor(t)
	result := proc.ProcessDocument(context.Background(), "/no/such/file.png", "default")
	assert.False(t, result.Success)
	assert.Equal(t, StatusFailed, result.Status)
	assert.NotEmpty(t, result.Errors)
}

func TestProcessDocumentFailsOnUnsupportedFormat(t *testing.T) {
	proc, dir := newTestProcessor(t)
	path := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	result := proc.ProcessDocument(context.Background(), path, "default")
	assert.False(t, result.Success)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestProcessDocumentFailsOnMissingProfile(t *testing.T) {
	proc, dir := newTestProcessor(t)
	imgPath := writeTestPNG(t, dir, "input.png")

	result := proc.ProcessDocument(context.Background(), imgPath, "does-not-exist")
	assert.False(t, result.Success)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestBatchProcessAggregatesResults(t *testing.T) {
	proc, dir := newTestProcessor(t)
	writeTestPNG(t, dir, "a.png")
	writeTestPNG(t, dir, "b.png")

	batch, err := proc.BatchProcess(context.Background(), dir, dir, "default", DefaultBatchOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, batch.TotalDocuments)
	assert.Len(t, batch.Results, 2)
	assert.Equal(t, float64(100), batch.SuccessRate())
}

func TestBatchProcessCancelledContextSkipsUnstartedDocuments(t *testing.T) {
	proc, dir := newTestProcessor(t)
	writeTestPNG(t, dir, "a.png")
	writeTestPNG(t, dir, "b.png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := proc.BatchProcess(ctx, dir, dir, "default", DefaultBatchOptions())
	require.NoError(t, err)
	require.Len(t, batch.Results, 2)
	for _, r := range batch.Results {
		assert.Equal(t, StatusCancelled, r.Status)
		assert.False(t, r.Success)
	}
	assert.Equal(t, float64(0), batch.SuccessRate())
}

func TestHealthCheckReportsUnhealthyWithoutAnalyzer(t *testing.T) {
	proc := &Processor{}
	health := proc.HealthCheck()
	assert.Equal(t, "unhealthy", health["status"])
}

func TestHealthCheckDegradedWithoutAuditLogger(t *testing.T) {
	proc, _ := newTestProcessor(t)
	health := proc.HealthCheck()
	assert.Equal(t, "degraded", health["status"])
}

func TestStatisticsRollUpAcrossDocuments(t *testing.T) {
	proc, dir := newTestProcessor(t)
	imgPath := writeTestPNG(t, dir, "input.png")

	proc.ProcessDocument(context.Background(), imgPath, "default")
	proc.ProcessDocument(context.Background(), "/missing.png", "default")

	stats := proc.GetProcessingStatistics()
	assert.EqualValues(t, 2, stats["total"])
	assert.EqualValues(t, 1, stats["successful"])
	assert.EqualValues(t, 1, stats["failed"])

	proc.ResetProcessingStatistics()
	stats = proc.GetProcessingStatistics()
	assert.EqualValues(t, 0, stats["total"])
}
