package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashExcludesSignature(t *testing.T) {
	log := NewLog(OpDocumentUpload, LevelInfo)
	log.DocumentID = "doc-1"

	before, err := log.ContentHash()
	require.NoError(t, err)

	log.Signature = "deadbeef"
	after, err := log.ContentHash()
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestContentHashChangesWithPayload(t *testing.T) {
	a := NewLog(OpDocumentUpload, LevelInfo)
	a.DocumentID = "doc-1"
	b := a
	b.DocumentID = "doc-2"

	hashA, err := a.ContentHash()
	require.NoError(t, err)
	hashB, err := b.ContentHash()
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)
}

func TestToJSONFromJSONRoundTrip(t *testing.T) {
	log := NewLog(OpPIIDetection, LevelWarning)
	log.DocumentID = "doc-1"
	log.DetectionsSummary = map[string]int{"email": 2}

	data, err := log.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, log.ID, got.ID)
	assert.Equal(t, log.DetectionsSummary, got.DetectionsSummary)
}

func TestIsSigned(t *testing.T) {
	log := NewLog(OpDocumentUpload, LevelInfo)
	assert.False(t, log.IsSigned())
	log.Signature = "sig"
	assert.True(t, log.IsSigned())
}

func TestFilterLogsByOperationAndChain(t *testing.T) {
	upload := OpDocumentUpload
	logs := []Log{
		{ID: "1", Operation: OpDocumentUpload, ChainID: "c1", Timestamp: time.Now()},
		{ID: "2", Operation: OpPIIDetection, ChainID: "c1", Timestamp: time.Now()},
		{ID: "3", Operation: OpDocumentUpload, ChainID: "c2", Timestamp: time.Now()},
	}

	chain := "c1"
	got := FilterLogs(logs, &upload, &chain, nil, nil, nil, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestCheckTrailIntegrityDetectsDuplicatesAndOrdering(t *testing.T) {
	now := time.Now()
	logs := []Log{
		{ID: "1", Timestamp: now},
		{ID: "1", Timestamp: now.Add(time.Second)},
		{ID: "2", Timestamp: now.Add(-time.Minute)},
	}

	report := CheckTrailIntegrity(logs, nil)
	assert.False(t, report.Valid)
	assert.Contains(t, report.DuplicateIDs, "1")
	assert.NotEmpty(t, report.OutOfOrderAt)
}

func TestCheckTrailIntegrityFlagsUnverifiedSignature(t *testing.T) {
	logs := []Log{
		{ID: "1", Timestamp: time.Now(), Signature: "sig"},
	}
	report := CheckTrailIntegrity(logs, func(Log) bool { return false })
	assert.False(t, report.Valid)
	assert.Contains(t, report.UnverifiedLogID, "1")
}

func TestNewTrailAppend(t *testing.T) {
	trail := NewTrail("chain", nil)
	trail.Append("log-1")
	trail.Append("log-2")
	assert.Equal(t, []string{"log-1", "log-2"}, trail.LogIDs)
	assert.NotEmpty(t, trail.ID)
}
