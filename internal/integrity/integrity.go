// Package integrity validates documents against their recorded hashes and
// audit trails: hash comparison, audit signature verification, trail
// sanity checks, and issue classification. Problems are returned as
// issue-classified reports, never raised.
package integrity

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/happy2234/gopnik/internal/audit"
	"github.com/happy2234/gopnik/internal/gcrypto"
)

// Result is the closed set of overall verdicts.
type Result string

const (
	ResultValid             Result = "valid"
	ResultHashMismatch      Result = "hash_mismatch"
	ResultSignatureMismatch Result = "signature_mismatch"
	ResultAuditTrailInvalid Result = "audit_trail_invalid"
	ResultMissingData       Result = "missing_data"
	ResultCorrupted         Result = "corrupted"
)

// Severity is the severity of one Issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue describes one integrity problem found during validation.
type Issue struct {
	Type               string   `json:"type"`
	Severity           Severity `json:"severity"`
	Message            string   `json:"message"`
	Details            map[string]any `json:"details,omitempty"`
	AffectedComponent  string   `json:"affected_component,omitempty"`
	Recommendation     string   `json:"recommendation,omitempty"`
}

// Report is the structured verdict on one document's bytes and audit
// trail.
type Report struct {
	DocumentID          string    `json:"document_id"`
	ValidationTimestamp time.Time `json:"validation_timestamp"`
	OverallResult       Result    `json:"overall_result"`
	DocumentHash        string    `json:"document_hash,omitempty"`
	ExpectedHash        string    `json:"expected_hash,omitempty"`
	SignatureValid      *bool     `json:"signature_valid,omitempty"`
	AuditTrailValid     *bool     `json:"audit_trail_valid,omitempty"`
	Issues              []Issue   `json:"issues"`
	Metadata            map[string]any `json:"metadata"`
	ProcessingTime      time.Duration  `json:"processing_time"`
}

// DefaultLargeFileThreshold is the size (100 MiB) above which a document
// draws a large_file warning.
const DefaultLargeFileThreshold = 100 * 1024 * 1024

// TimestampGrace bounds how far into the future an audit log's timestamp
// may drift before it is flagged, absorbing clock skew between producer
// and validator.
const TimestampGrace = 5 * time.Minute

// Validator runs the validation procedure. Verify is the signature check,
// injected so the validator does not depend on a live audit.Logger (it
// only needs the public key).
type Validator struct {
	LargeFileThreshold int64
	Verify             func(audit.Log) bool
}

// NewValidator builds a Validator with default thresholds.
func NewValidator(verify func(audit.Log) bool) *Validator {
	return &Validator{LargeFileThreshold: DefaultLargeFileThreshold, Verify: verify}
}

// Validate runs the full procedure against documentPath. auditLogData is
// optional raw JSON for an associated audit log (mutually exclusive with
// loading one from auditLogPath).
func (v *Validator) Validate(documentPath, expectedHash string, auditLogData []byte, auditLogPath string) Report {
	start := time.Now()
	report := Report{
		DocumentID:          filepath.Base(documentPath),
		ValidationTimestamp: time.Now().UTC(),
		Issues:              []Issue{},
		Metadata:             map[string]any{},
	}

	info, err := os.Stat(documentPath)
	if err != nil {
		report.OverallResult = ResultMissingData
		report.Issues = append(report.Issues, Issue{
			Type: "missing_document", Severity: SeverityError,
			Message: fmt.Sprintf("document not found: %v", err),
			AffectedComponent: "document",
		})
		report.ProcessingTime = time.Since(start)
		return report
	}

	report.Metadata["file_size"] = info.Size()
	if info.Size() == 0 {
		report.Issues = append(report.Issues, Issue{
			Type: "empty_file", Severity: SeverityWarning,
			Message: "document is zero bytes", AffectedComponent: "document",
		})
	} else if thresh := v.threshold(); info.Size() > thresh {
		report.Issues = append(report.Issues, Issue{
			Type: "large_file", Severity: SeverityWarning,
			Message: fmt.Sprintf("document exceeds %d bytes", thresh),
			AffectedComponent: "document",
		})
	}

	hash, err := gcrypto.SHA256File(documentPath)
	if err != nil {
		report.Issues = append(report.Issues, Issue{
			Type: "hash_failure", Severity: SeverityError,
			Message: fmt.Sprintf("could not hash document: %v", err),
			AffectedComponent: "document",
		})
	} else {
		report.DocumentHash = hash
		report.ExpectedHash = expectedHash
		if expectedHash != "" && expectedHash != hash {
			report.Issues = append(report.Issues, Issue{
				Type: "hash_mismatch", Severity: SeverityError,
				Message: "document hash does not match expected hash",
				AffectedComponent: "document",
				Recommendation: "verify the document has not been modified since processing",
			})
		}
	}

	if auditLogPath != "" && auditLogData == nil {
		data, readErr := os.ReadFile(auditLogPath)
		if readErr != nil {
			report.Issues = append(report.Issues, Issue{
				Type: "audit_log_load_failed", Severity: SeverityWarning,
				Message: fmt.Sprintf("could not read audit log: %v", readErr),
				AffectedComponent: "audit_trail",
			})
		} else {
			auditLogData = data
		}
	}

	if auditLogData != nil {
		v.validateAuditLog(&report, auditLogData, documentPath)
	}

	report.OverallResult = classify(report)
	report.ProcessingTime = time.Since(start)
	return report
}

func (v *Validator) threshold() int64 {
	if v.LargeFileThreshold > 0 {
		return v.LargeFileThreshold
	}
	return DefaultLargeFileThreshold
}

func (v *Validator) validateAuditLog(report *Report, data []byte, documentPath string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		report.Issues = append(report.Issues, Issue{
			Type: "audit_log_load_failed", Severity: SeverityWarning,
			Message: fmt.Sprintf("audit log is not valid JSON: %v", err),
			AffectedComponent: "audit_trail",
		})
		return
	}

	log, err := audit.FromJSON(data)
	if err != nil {
		report.Issues = append(report.Issues, Issue{
			Type: "audit_log_load_failed", Severity: SeverityWarning,
			Message: fmt.Sprintf("could not parse audit log: %v", err),
			AffectedComponent: "audit_trail",
		})
		return
	}

	valid := true
	if log.DocumentID == "" {
		valid = false
		report.Issues = append(report.Issues, Issue{
			Type: "missing_field", Severity: SeverityError,
			Message: "audit log missing document_id", AffectedComponent: "audit_trail",
		})
	}
	if log.ID == "" {
		valid = false
		report.Issues = append(report.Issues, Issue{
			Type: "missing_field", Severity: SeverityError,
			Message: "audit log missing id", AffectedComponent: "audit_trail",
		})
	}
	if log.Timestamp.After(time.Now().Add(TimestampGrace)) {
		valid = false
		report.Issues = append(report.Issues, Issue{
			Type: "future_timestamp", Severity: SeverityError,
			Message: "audit log timestamp is in the future", AffectedComponent: "audit_trail",
		})
	}
	if len(log.FilePaths) > 0 {
		if filepath.Base(log.FilePaths[0]) != filepath.Base(documentPath) {
			valid = false
			report.Issues = append(report.Issues, Issue{
				Type: "document_mismatch", Severity: SeverityError,
				Message: "audit log's referenced file does not match the validated document",
				AffectedComponent: "audit_trail",
			})
		}
	}

	if log.IsSigned() {
		sigValid := v.Verify != nil && v.Verify(log)
		report.SignatureValid = &sigValid
		if !sigValid {
			valid = false
			report.Issues = append(report.Issues, Issue{
				Type: "signature_invalid", Severity: SeverityError,
				Message: "audit log signature does not verify",
				AffectedComponent: "audit_trail",
				Recommendation: "treat this document's processing history as untrusted",
			})
		}
	}

	report.AuditTrailValid = &valid
}

// classify derives overall_result: valid iff no issue has error severity,
// else the most specific matching category.
func classify(r Report) Result {
	hasError := false
	for _, iss := range r.Issues {
		if iss.Severity == SeverityError {
			hasError = true
			break
		}
	}
	if !hasError {
		return ResultValid
	}
	for _, iss := range r.Issues {
		if iss.Type == "hash_mismatch" {
			return ResultHashMismatch
		}
	}
	for _, iss := range r.Issues {
		if iss.Type == "signature_invalid" {
			return ResultSignatureMismatch
		}
	}
	for _, iss := range r.Issues {
		if iss.Type == "missing_field" || iss.Type == "future_timestamp" || iss.Type == "document_mismatch" {
			return ResultAuditTrailInvalid
		}
	}
	return ResultCorrupted
}

// ToJSON renders the report as indented JSON for export.
func (r Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ReportsToCSV renders a batch of reports with a fixed column set, one row
// per report.
func ReportsToCSV(reports []Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"Document ID", "Result", "Document Hash", "Expected Hash", "Signature Valid", "Audit Trail Valid", "Issues", "Validated At"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range reports {
		row := []string{
			r.DocumentID,
			string(r.OverallResult),
			r.DocumentHash,
			r.ExpectedHash,
			formatOptionalBool(r.SignatureValid),
			formatOptionalBool(r.AuditTrailValid),
			strconv.Itoa(len(r.Issues)),
			r.ValidationTimestamp.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatOptionalBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

// Summary aggregates counts and averages across a batch of reports.
type Summary struct {
	Total              int
	ByResult           map[Result]int
	AverageProcessTime time.Duration
	SignedRatio        float64
}

// GenerateSummary aggregates reports into a Summary.
func GenerateSummary(reports []Report) Summary {
	s := Summary{ByResult: map[Result]int{}}
	if len(reports) == 0 {
		return s
	}
	var totalTime time.Duration
	signed := 0
	for _, r := range reports {
		s.Total++
		s.ByResult[r.OverallResult]++
		totalTime += r.ProcessingTime
		if r.SignatureValid != nil {
			signed++
		}
	}
	s.AverageProcessTime = totalTime / time.Duration(len(reports))
	s.SignedRatio = float64(signed) / float64(len(reports))
	return s
}

// ValidateBatch validates every file under dir matching pattern (e.g.
// "*.pdf"), optionally pairing each with a same-named JSON audit log file
// under auditDir.
func (v *Validator) ValidateBatch(dir, auditDir, pattern string) ([]Report, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("integrity: glob %s: %w", pattern, err)
	}
	var reports []Report
	for _, docPath := range matches {
		auditPath := ""
		if auditDir != "" {
			candidate := filepath.Join(auditDir, filepath.Base(docPath)+".audit.json")
			if _, statErr := os.Stat(candidate); statErr == nil {
				auditPath = candidate
			}
		}
		reports = append(reports, v.Validate(docPath, "", nil, auditPath))
	}
	return reports, nil
}
