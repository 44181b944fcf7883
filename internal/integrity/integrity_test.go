package integrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy2234/gopnik/internal/gcrypto"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestValidateMissingDocument(t *testing.T) {
	v := NewValidator(nil)
	report := v.Validate(filepath.Join(t.TempDir(), "missing.pdf"), "", nil, "")
	assert.Equal(t, ResultMissingData, report.OverallResult)
}

func TestValidateHashMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.pdf", []byte("hello world"))
	hash, err := gcrypto.SHA256File(path)
	require.NoError(t, err)

	v := NewValidator(nil)
	report := v.Validate(path, hash, nil, "")
	assert.Equal(t, ResultValid, report.OverallResult)
	assert.Equal(t, hash, report.DocumentHash)
}

func TestValidateHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.pdf", []byte("hello world"))

	v := NewValidator(nil)
	report := v.Validate(path, "not-the-real-hash", nil, "")
	assert.Equal(t, ResultHashMismatch, report.OverallResult)
}

func TestValidateEmptyFileWarns(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "empty.pdf", []byte{})

	v := NewValidator(nil)
	report := v.Validate(path, "", nil, "")
	found := false
	for _, issue := range report.Issues {
		if issue.Type == "empty_file" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Equal(t, ResultValid, report.OverallResult)
}

func TestClassifyPrefersHashMismatch(t *testing.T) {
	report := Report{Issues: []Issue{
		{Type: "hash_mismatch", Severity: SeverityError},
		{Type: "signature_invalid", Severity: SeverityError},
	}}
	assert.Equal(t, ResultHashMismatch, classify(report))
}

func TestGenerateSummary(t *testing.T) {
	valid := true
	reports := []Report{
		{OverallResult: ResultValid, SignatureValid: &valid},
		{OverallResult: ResultHashMismatch},
	}
	summary := GenerateSummary(reports)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByResult[ResultValid])
	assert.Equal(t, 1, summary.ByResult[ResultHashMismatch])
	assert.InDelta(t, 0.5, summary.SignedRatio, 0.0001)
}

func TestReportExport(t *testing.T) {
	valid := true
	report := Report{
		DocumentID:      "doc.pdf",
		OverallResult:   ResultValid,
		DocumentHash:    "abc",
		SignatureValid:  &valid,
		AuditTrailValid: &valid,
	}

	data, err := report.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"overall_result": "valid"`)

	csvData, err := ReportsToCSV([]Report{report})
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "doc.pdf,valid,abc")
}

func TestGenerateSummaryEmpty(t *testing.T) {
	summary := GenerateSummary(nil)
	assert.Equal(t, 0, summary.Total)
}
