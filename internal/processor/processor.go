// Package processor orchestrates the per-document pipeline — analyze,
// detect, redact, sign — plus audit chain construction, batch processing,
// health checks, and rolling statistics. Failures are reported as failed
// results, never raised past the package boundary.
package processor

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/happy2234/gopnik/internal/audit"
	"github.com/happy2234/gopnik/internal/detect/hybrid"
	"github.com/happy2234/gopnik/internal/document"
	"github.com/happy2234/gopnik/internal/gcrypto"
	"github.com/happy2234/gopnik/internal/memguard"
	"github.com/happy2234/gopnik/internal/pii"
	"github.com/happy2234/gopnik/internal/profile"
	"github.com/happy2234/gopnik/internal/redact"
	"github.com/happy2234/gopnik/internal/secureio"
)

// Status is the closed set of processing states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Metrics reports timing and volume figures for one processed document.
type Metrics struct {
	TotalTime      time.Duration
	DetectionTime  time.Duration
	RedactionTime  time.Duration
	PagesProcessed int
	DetectionsFound int
	MemoryPeakBytes int64
}

// Result is the outcome of processing one document.
type Result struct {
	ID              string
	DocumentID      string
	InputDocument   string
	Detections      *pii.Collection
	AuditLog        []audit.Log
	OutputPath      string
	Status          Status
	Success         bool
	StartedAt       time.Time
	CompletedAt     time.Time
	Errors          []string
	Warnings        []string
	ProfileName     string
	Metrics         Metrics
}

// BatchResult is the outcome of processing a directory of documents.
type BatchResult struct {
	ID              string
	InputDirectory  string
	OutputDirectory string
	Results         []Result
	StartedAt       time.Time
	CompletedAt     time.Time
	TotalDocuments  int
	ProfileName     string
	FailurePolicy   string
	Statistics      map[string]any
}

// SuccessRate returns the percentage of documents processed successfully.
func (b BatchResult) SuccessRate() float64 {
	if b.TotalDocuments == 0 {
		return 0
	}
	successful := 0
	for _, r := range b.Results {
		if r.Success {
			successful++
		}
	}
	return float64(successful) / float64(b.TotalDocuments) * 100
}

// BatchOptions tunes BatchProcess.
type BatchOptions struct {
	Recursive        bool
	ContinueOnError  bool
	MaxConcurrency   int
}

// DefaultBatchOptions returns the recursive, continue-on-error defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Recursive: true, ContinueOnError: true, MaxConcurrency: 4}
}

// Statistics tracks rolling processor-wide counters.
type Statistics struct {
	mu                   sync.Mutex
	Total                int64
	Successful           int64
	Failed               int64
	totalProcessingTime  time.Duration
}

// AverageProcessingTime returns the mean wall-clock time across every
// document processed so far.
func (s *Statistics) AverageProcessingTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Total == 0 {
		return 0
	}
	return s.totalProcessingTime / time.Duration(s.Total)
}

func (s *Statistics) record(d time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total++
	if success {
		s.Successful++
	} else {
		s.Failed++
	}
	s.totalProcessingTime += d
}

func (s *Statistics) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total, s.Successful, s.Failed, s.totalProcessingTime = 0, 0, 0, 0
}

// snapshot is a point-in-time, lock-free copy for HealthCheck/Get.
func (s *Statistics) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	avg := time.Duration(0)
	if s.Total > 0 {
		avg = s.totalProcessingTime / time.Duration(s.Total)
	}
	return map[string]any{
		"total":                 s.Total,
		"successful":            s.Successful,
		"failed":                s.Failed,
		"average_processing_time": avg.String(),
	}
}

// Processor orchestrates the full pipeline: analyzer → hybrid detector →
// redaction engine → audit logger, per document.
type Processor struct {
	Analyzer       *document.Analyzer
	Hybrid         *hybrid.Engine
	Redactor       *redact.Engine
	Profiles       *profile.Manager
	AuditLogger    *audit.Logger // nil means no audit system configured
	Tracer         trace.Tracer
	Logger         *zap.Logger
	Memory         *memguard.Manager // nil builds a private per-call Manager

	stats Statistics
}

// New builds a Processor from its collaborators. auditLogger may be nil:
// the processor then runs in a degraded health state but still processes
// documents.
func New(analyzer *document.Analyzer, hybridEngine *hybrid.Engine, redactor *redact.Engine, profiles *profile.Manager, auditLogger *audit.Logger, tracer trace.Tracer, logger *zap.Logger) *Processor {
	return &Processor{
		Analyzer: analyzer, Hybrid: hybridEngine, Redactor: redactor,
		Profiles: profiles, AuditLogger: auditLogger, Tracer: tracer, Logger: logger,
	}
}

// ProcessDocument runs the full per-document pipeline. It never raises
// beyond the boundary: every failure is reported as a failed Result.
func (p *Processor) ProcessDocument(ctx context.Context, path string, profileName string) Result {
	ctx, span := p.Tracer.Start(ctx, "process_document")
	defer span.End()

	started := time.Now()
	result := Result{
		ID: gcryptoSecureID(), InputDocument: path, Status: StatusInProgress,
		StartedAt: started, ProfileName: profileName, Detections: pii.NewCollection(),
	}

	if _, err := os.Stat(path); err != nil {
		return p.fail(result, started, fmt.Sprintf("input not found: %v", err))
	}
	if !p.Analyzer.IsSupported(path) {
		return p.fail(result, started, fmt.Sprintf("unsupported format %q", filepath.Ext(path)))
	}

	prof, err := p.Profiles.Load(profileName, true)
	if err != nil {
		return p.fail(result, started, fmt.Sprintf("profile load failed: %v", err))
	}

	mem := p.Memory
	if mem == nil {
		mem = memguard.NewManager()
	}
	memKey := "processor:" + result.ID

	scratch, err := secureio.NewTempDir("", "gopnik-doc-*")
	if err != nil {
		return p.fail(result, started, fmt.Sprintf("scratch scope: %v", err))
	}
	mem.RegisterCleanup(memKey, func() { _ = scratch.Close() })
	defer mem.Cleanup(memKey) // guaranteed release of the scratch scope on every exit path

	chainID := result.ID
	uploadLog := p.logChain(audit.OpDocumentUpload, "", chainID, "", profileName, nil)
	parentID := logID(uploadLog)

	doc, warnings, err := p.Analyzer.Analyze(path)
	if err != nil {
		p.logError(chainID, parentID, err)
		return p.fail(result, started, fmt.Sprintf("analyze failed: %v", err))
	}
	result.DocumentID = doc.ID
	result.Warnings = append(result.Warnings, warnings...)
	result.Metrics.PagesProcessed = doc.PageCount()

	detectStart := time.Now()
	detections, detErrs := p.detect(ctx, doc)
	result.Metrics.DetectionTime = time.Since(detectStart)
	for _, e := range detErrs {
		result.Warnings = append(result.Warnings, e.Error())
	}
	result.Detections = detections
	result.Metrics.DetectionsFound = detections.Len()

	detectLog := p.logChain(audit.OpPIIDetection, doc.ID, chainID, parentID, profileName, countsByType(detections))
	parentID = logID(detectLog)

	// Sensitive text content extracted for detection is only needed through
	// the detection log above; register it for zeroing now rather than
	// waiting for the document-wide scope to close.
	registerTextBuffers(mem, memKey+":text", detections)
	mem.Cleanup(memKey + ":text")

	// Redaction operates on a scratch copy inside the secure scope so a
	// crash mid-rewrite never leaves the original input touched.
	workCopy := scratch.Join(filepath.Base(path))
	if err := copyFile(path, workCopy); err != nil {
		p.logError(chainID, parentID, err)
		return p.fail(result, started, fmt.Sprintf("scratch copy: %v", err))
	}

	redactStart := time.Now()
	scratchOutput, redactWarnings, err := p.redactDocument(workCopy, detections.All(), prof, doc.PageCount())
	result.Metrics.RedactionTime = time.Since(redactStart)
	result.Warnings = append(result.Warnings, redactWarnings...)
	if err != nil {
		p.logError(chainID, parentID, err)
		return p.fail(result, started, fmt.Sprintf("redaction failed: %v", err))
	}

	outputPath := filepath.Join(filepath.Dir(path), "redacted_"+filepath.Base(path))
	if scratchOutput == workCopy {
		// Idempotent no-op path (no detections): copy the original straight
		// through rather than moving the untouched scratch copy.
		if err := copyFile(path, outputPath); err != nil {
			p.logError(chainID, parentID, err)
			return p.fail(result, started, fmt.Sprintf("output copy: %v", err))
		}
	} else if err := publishOutput(scratchOutput, outputPath); err != nil {
		p.logError(chainID, parentID, err)
		return p.fail(result, started, fmt.Sprintf("publish output: %v", err))
	}
	result.OutputPath = outputPath

	inputHash, _ := gcrypto.SHA256File(path)
	outputHash, _ := gcrypto.SHA256File(outputPath)

	redactLog := p.logOperationWithHashes(audit.OpDocumentRedaction, doc.ID, chainID, parentID, profileName, countsByType(detections), inputHash, outputHash)

	result.AuditLog = compactLogs(uploadLog, detectLog, redactLog)
	result.Status = StatusCompleted
	result.Success = true
	result.CompletedAt = time.Now()
	result.Metrics.TotalTime = result.CompletedAt.Sub(started)

	p.stats.record(result.Metrics.TotalTime, true)
	return result
}

// detect rasterizes the document's first page (when it is a raster
// format — PDFs carry no rasterized page in this analyzer, per
// document.go's documented limitation) and dispatches to the hybrid
// engine with whatever image/text inputs are available per page.
func (p *Processor) detect(ctx context.Context, doc document.Document) (*pii.Collection, []error) {
	if p.Hybrid == nil {
		return pii.NewCollection(), nil
	}

	merged := pii.NewCollection()
	var allErrs []error

	var raster image.Image
	if doc.Format != document.FormatPDF {
		if img, err := imaging.Open(doc.Path); err == nil {
			raster = img
		}
	}

	for _, page := range doc.Pages {
		in := hybrid.Input{Text: page.TextContent, PageNumber: page.PageNumber}
		if page.PageNumber == 0 {
			in.Image = raster
		}
		col, errs := p.Hybrid.Detect(ctx, in)
		allErrs = append(allErrs, errs...)
		for _, d := range col.All() {
			merged.Add(d)
		}
	}
	return merged, allErrs
}

func (p *Processor) redactDocument(path string, detections []pii.Detection, prof profile.Profile, pageCount int) (string, []string, error) {
	if len(detections) == 0 {
		// Idempotent no-op: copy input to output.
		out := path
		return out, nil, nil
	}
	out, _, warnings, err := p.Redactor.ApplyRedactions(path, detections, prof, pageCount)
	return out, warnings, err
}

func (p *Processor) fail(result Result, started time.Time, msg string) Result {
	result.Status = StatusFailed
	result.Success = false
	result.Errors = append(result.Errors, msg)
	result.CompletedAt = time.Now()
	result.Metrics.TotalTime = result.CompletedAt.Sub(started)
	p.stats.record(result.Metrics.TotalTime, false)
	if p.Logger != nil {
		p.Logger.Warn("document processing failed", zap.String("document", result.InputDocument), zap.String("error", msg))
	}
	return result
}

func (p *Processor) logChain(op audit.Operation, documentID, chainID, parentID, profileName string, counts map[string]int) *audit.Log {
	if p.AuditLogger == nil {
		return nil
	}
	log, err := p.AuditLogger.LogDocumentOperation(op, documentID, chainID, parentID, profileName, counts)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("audit insertion failed", zap.Error(err))
		}
		return nil
	}
	return &log
}

func (p *Processor) logOperationWithHashes(op audit.Operation, documentID, chainID, parentID, profileName string, counts map[string]int, inputHash, outputHash string) *audit.Log {
	if p.AuditLogger == nil {
		return nil
	}
	entry := audit.NewLog(op, audit.LevelInfo)
	entry.DocumentID = documentID
	entry.ChainID = chainID
	entry.ParentID = parentID
	entry.ProfileName = profileName
	entry.DetectionsSummary = counts
	entry.InputHash = inputHash
	entry.OutputHash = outputHash
	log, err := p.AuditLogger.LogOperation(entry)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("audit insertion failed", zap.Error(err))
		}
		return nil
	}
	return &log
}

func (p *Processor) logError(chainID, parentID string, err error) {
	if p.AuditLogger == nil {
		return
	}
	_, _ = p.AuditLogger.LogError("", chainID, parentID, err)
}

func logID(l *audit.Log) string {
	if l == nil {
		return ""
	}
	return l.ID
}

func compactLogs(logs ...*audit.Log) []audit.Log {
	var out []audit.Log
	for _, l := range logs {
		if l != nil {
			out = append(out, *l)
		}
	}
	return out
}

func countsByType(c *pii.Collection) map[string]int {
	out := map[string]int{}
	for t, n := range c.Stats().CountByType {
		out[string(t)] = n
	}
	return out
}

// registerTextBuffers copies each detection's extracted text into a buffer
// memguard can zero once the detection log has captured it.
func registerTextBuffers(mem *memguard.Manager, key string, detections *pii.Collection) {
	for _, d := range detections.All() {
		if d.TextContent == "" {
			continue
		}
		buf := []byte(d.TextContent)
		mem.RegisterBuffer(key, &buf)
	}
}

// copyFile copies src's bytes to dst, used to stage a scratch working copy
// ahead of redaction and to publish the final artifact.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// publishOutput moves the scratch-produced artifact to its final sibling
// path, falling back to copy+remove when the scratch directory and the
// destination are on different filesystems (os.Rename's EXDEV).
func publishOutput(scratchOutput, outputPath string) error {
	if err := os.Rename(scratchOutput, outputPath); err == nil {
		return nil
	}
	if err := copyFile(scratchOutput, outputPath); err != nil {
		return err
	}
	return os.Remove(scratchOutput)
}

func gcryptoSecureID() string {
	id, err := gcrypto.SecureRandomHex(16)
	if err != nil {
		return fmt.Sprintf("result-%d", time.Now().UnixNano())
	}
	return id
}

// BatchProcess enumerates supported files under dir (per opts.Recursive),
// processes each with bounded concurrency, and aggregates the results.
// Failures are collected rather than aborting the batch unless
// opts.ContinueOnError is false.
func (p *Processor) BatchProcess(ctx context.Context, dir, outDir, profileName string, opts BatchOptions) (BatchResult, error) {
	files, err := p.enumerateSupported(dir, opts.Recursive)
	if err != nil {
		return BatchResult{}, err
	}

	batch := BatchResult{
		ID: gcryptoSecureID(), InputDirectory: dir, OutputDirectory: outDir,
		StartedAt: time.Now(), TotalDocuments: len(files), ProfileName: profileName,
		FailurePolicy: "continue",
	}
	if !opts.ContinueOnError {
		batch.FailurePolicy = "abort"
	}

	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			// Cooperative cancellation: inflight documents finish, but once
			// the context is cancelled no new ones start.
			if gctx.Err() != nil {
				now := time.Now()
				results[i] = Result{
					ID: gcryptoSecureID(), InputDocument: f, Status: StatusCancelled,
					StartedAt: now, CompletedAt: now, Detections: pii.NewCollection(),
					Errors: []string{"batch cancelled before processing started"},
				}
				return nil
			}
			res := p.ProcessDocument(gctx, f, profileName)
			results[i] = res
			if !res.Success && !opts.ContinueOnError {
				return fmt.Errorf("processing %s failed: %s", f, strings.Join(res.Errors, "; "))
			}
			return nil
		})
	}
	groupErr := g.Wait()

	cancelledCount := 0
	for _, r := range results {
		if r.Status == StatusCancelled {
			cancelledCount++
		}
	}
	if cancelledCount > 0 && p.AuditLogger != nil {
		_, _ = p.AuditLogger.LogSystemOperation(audit.OpSystemOperation, audit.LevelWarning, map[string]any{
			"event":               "batch_cancelled",
			"batch_id":            batch.ID,
			"cancelled_documents": cancelledCount,
		})
	}

	batch.Results = results
	batch.CompletedAt = time.Now()
	batch.Statistics = map[string]any{
		"success_rate": batch.SuccessRate(),
		"cancelled":    cancelledCount,
	}
	if groupErr != nil && !opts.ContinueOnError {
		return batch, groupErr
	}
	return batch, nil
}

func (p *Processor) enumerateSupported(dir string, recursive bool) ([]string, error) {
	var out []string
	walk := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Analyzer.IsSupported(path) {
			out = append(out, path)
		}
		return nil
	}
	if err := filepath.Walk(dir, walk); err != nil {
		return nil, fmt.Errorf("processor: enumerate %s: %w", dir, err)
	}
	return out, nil
}

// ValidateDocument reports whether doc's current on-disk hash still
// matches the one captured at processing time.
func (p *Processor) ValidateDocument(doc document.Document, expectedHash string) bool {
	hash, err := gcrypto.SHA256File(doc.Path)
	if err != nil {
		return false
	}
	return hash == expectedHash
}

// HealthCheck reports component health and rolling statistics: degraded
// when the AI engine or audit system is absent, unhealthy when the
// analyzer or redaction engine is uninitialized.
func (p *Processor) HealthCheck() map[string]any {
	status := "healthy"
	components := map[string]any{
		"analyzer":        p.Analyzer != nil,
		"hybrid_detector":  p.Hybrid != nil,
		"redaction_engine": p.Redactor != nil,
		"audit_logger":     p.AuditLogger != nil,
	}

	if p.Analyzer == nil || p.Redactor == nil {
		status = "unhealthy"
	} else if p.Hybrid == nil || p.AuditLogger == nil {
		status = "degraded"
	}

	return map[string]any{
		"status":            status,
		"components":        components,
		"supported_formats": []string{"pdf", "png", "jpg", "jpeg", "tiff", "bmp"},
		"statistics":        p.stats.snapshot(),
	}
}

// GetProcessingStatistics returns the current rolling counters.
func (p *Processor) GetProcessingStatistics() map[string]any { return p.stats.snapshot() }

// ResetProcessingStatistics zeroes the rolling counters.
func (p *Processor) ResetProcessingStatistics() { p.stats.reset() }
