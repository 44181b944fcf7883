// Package perr holds the cross-cutting error taxonomy that does not
// naturally belong to any single component package.
package perr

import "fmt"

// Stage identifies which pipeline stage raised a DocumentProcessingError.
type Stage string

const (
	StageAnalyze  Stage = "analyze"
	StageDetect   Stage = "detect"
	StageRedact   Stage = "redact"
	StageSign     Stage = "sign"
	StageValidate Stage = "validate"
)

// DocumentProcessingError carries the stage and path of a decode/analyze/
// redact failure.
type DocumentProcessingError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *DocumentProcessingError) Error() string {
	return fmt.Sprintf("document processing failed at stage %s for %s: %v", e.Stage, e.Path, e.Err)
}

func (e *DocumentProcessingError) Unwrap() error { return e.Err }

// NewDocumentProcessingError wraps err with stage/path context.
func NewDocumentProcessingError(stage Stage, path string, err error) *DocumentProcessingError {
	return &DocumentProcessingError{Stage: stage, Path: path, Err: err}
}

// CryptoError signals a key load/verify failure.
type CryptoError struct{ Msg string }

func (e *CryptoError) Error() string { return "crypto error: " + e.Msg }

// CancelledError signals cooperative cancellation of a job or stage.
type CancelledError struct{ JobID string }

func (e *CancelledError) Error() string { return "cancelled: " + e.JobID }

// ConfigError signals malformed configuration input.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return "config error: " + e.Msg }
