// Package audit implements the append-only signed audit trail: Log/Trail
// models, a Postgres-backed logger with RSA-PSS signing,
// query/export/cleanup, and chain reconstruction via chain_id/parent_id.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/happy2234/gopnik/internal/gcrypto"
)

// Operation is the closed set of audit-worthy operations.
type Operation string

const (
	OpDocumentUpload     Operation = "document_upload"
	OpPIIDetection       Operation = "pii_detection"
	OpDocumentRedaction  Operation = "document_redaction"
	OpDocumentValidation Operation = "document_validation"
	OpProfileLoad        Operation = "profile_load"
	OpErrorOccurred      Operation = "error_occurred"
	OpSystemStartup      Operation = "system_startup"
	OpSystemOperation    Operation = "system_operation"
)

// Level is the audit log severity.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Log is one append-only audit record.
type Log struct {
	ID                string            `json:"id"`
	Operation         Operation         `json:"operation"`
	Timestamp         time.Time         `json:"timestamp"`
	Level             Level             `json:"level"`
	DocumentID        string            `json:"document_id,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	ProfileName       string            `json:"profile_name,omitempty"`
	DetectionsSummary map[string]int    `json:"detections_summary,omitempty"`
	InputHash         string            `json:"input_hash,omitempty"`
	OutputHash        string            `json:"output_hash,omitempty"`
	FilePaths         []string          `json:"file_paths,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	WarningMessages   []string          `json:"warning_messages,omitempty"`
	ProcessingTimeMs  int64             `json:"processing_time_ms,omitempty"`
	MemoryUsageBytes  int64             `json:"memory_usage_bytes,omitempty"`
	Signature         string            `json:"signature,omitempty"`
	ParentID          string            `json:"parent_id,omitempty"`
	ChainID           string            `json:"chain_id,omitempty"`
	SystemInfo        map[string]string `json:"system_info,omitempty"`
	Details           map[string]any    `json:"details,omitempty"`
}

// NewLog constructs a Log with a fresh ID and a UTC timestamp.
func NewLog(op Operation, level Level) Log {
	return Log{
		ID:        uuid.NewString(),
		Operation: op,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Details:   map[string]any{},
	}
}

// IsSigned reports whether l carries a non-empty signature.
func (l Log) IsSigned() bool { return l.Signature != "" }

// contentView is the subset of fields hashed for signing — everything
// except Signature, so the content hash of an unchanged log is stable
// across calls. Signature idempotence itself is enforced by Logger.Sign,
// which refuses to re-sign a log that already carries one.
type contentView struct {
	ID                string            `json:"id"`
	Operation         Operation         `json:"operation"`
	Timestamp         string            `json:"timestamp"`
	Level             Level             `json:"level"`
	DocumentID        string            `json:"document_id,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	ProfileName       string            `json:"profile_name,omitempty"`
	DetectionsSummary map[string]int    `json:"detections_summary,omitempty"`
	InputHash         string            `json:"input_hash,omitempty"`
	OutputHash        string            `json:"output_hash,omitempty"`
	FilePaths         []string          `json:"file_paths,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	WarningMessages   []string          `json:"warning_messages,omitempty"`
	ProcessingTimeMs  int64             `json:"processing_time_ms,omitempty"`
	MemoryUsageBytes  int64             `json:"memory_usage_bytes,omitempty"`
	ParentID          string            `json:"parent_id,omitempty"`
	ChainID           string            `json:"chain_id,omitempty"`
	SystemInfo        map[string]string `json:"system_info,omitempty"`
	Details           map[string]any    `json:"details,omitempty"`
}

// ContentHash computes SHA-256(canonical-JSON(log without signature)).
func (l Log) ContentHash() (string, error) {
	cv := contentView{
		ID: l.ID, Operation: l.Operation, Timestamp: l.Timestamp.Format(time.RFC3339Nano),
		Level: l.Level, DocumentID: l.DocumentID, UserID: l.UserID, SessionID: l.SessionID,
		ProfileName: l.ProfileName, DetectionsSummary: l.DetectionsSummary,
		InputHash: l.InputHash, OutputHash: l.OutputHash, FilePaths: l.FilePaths,
		ErrorMessage: l.ErrorMessage, WarningMessages: l.WarningMessages,
		ProcessingTimeMs: l.ProcessingTimeMs, MemoryUsageBytes: l.MemoryUsageBytes,
		ParentID: l.ParentID, ChainID: l.ChainID, SystemInfo: l.SystemInfo, Details: l.Details,
	}
	data, err := json.Marshal(cv)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize: %w", err)
	}
	return gcrypto.SHA256Bytes(data), nil
}

// ToJSON serializes the log, signature included, for export and for
// integrity validation.
func (l Log) ToJSON() ([]byte, error) { return json.Marshal(l) }

// FromJSON parses a Log previously produced by ToJSON.
func FromJSON(data []byte) (Log, error) {
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return Log{}, fmt.Errorf("audit: parse log: %w", err)
	}
	return l, nil
}

// Trail is an ordered set of logs for one logical unit (typically one
// document's processing chain).
type Trail struct {
	ID       string
	Name     string
	Metadata map[string]any
	LogIDs   []string
}

// NewTrail constructs an empty named trail.
func NewTrail(name string, metadata map[string]any) Trail {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Trail{ID: uuid.NewString(), Name: name, Metadata: metadata}
}

// Append records logID as the next entry in the trail.
func (t *Trail) Append(logID string) { t.LogIDs = append(t.LogIDs, logID) }

// FilterLogs returns the subset of logs (assumed to belong to this trail)
// matching the given predicates; nil predicates are unconstrained.
func FilterLogs(logs []Log, op *Operation, chainID, documentID, userID *string, start, end *time.Time) []Log {
	var out []Log
	for _, l := range logs {
		if op != nil && l.Operation != *op {
			continue
		}
		if chainID != nil && l.ChainID != *chainID {
			continue
		}
		if documentID != nil && l.DocumentID != *documentID {
			continue
		}
		if userID != nil && l.UserID != *userID {
			continue
		}
		if start != nil && l.Timestamp.Before(*start) {
			continue
		}
		if end != nil && l.Timestamp.After(*end) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// TrailIntegrity reports whether logs (in trail order) have unique IDs,
// non-decreasing timestamps, and verifying signatures (for every log that
// carries one).
type TrailIntegrity struct {
	Valid           bool
	DuplicateIDs    []string
	OutOfOrderAt    []int
	UnverifiedLogID []string
}

// CheckTrailIntegrity validates ordering/uniqueness/signatures over logs
// given in trail (insertion) order.
func CheckTrailIntegrity(logs []Log, verify func(Log) bool) TrailIntegrity {
	report := TrailIntegrity{Valid: true}
	seen := map[string]bool{}
	var lastTS time.Time
	for i, l := range logs {
		if seen[l.ID] {
			report.DuplicateIDs = append(report.DuplicateIDs, l.ID)
			report.Valid = false
		}
		seen[l.ID] = true

		if i > 0 && l.Timestamp.Before(lastTS) {
			report.OutOfOrderAt = append(report.OutOfOrderAt, i)
			report.Valid = false
		}
		lastTS = l.Timestamp

		if l.IsSigned() && verify != nil && !verify(l) {
			report.UnverifiedLogID = append(report.UnverifiedLogID, l.ID)
			report.Valid = false
		}
	}
	return report
}
