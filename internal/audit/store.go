package audit

import (
	"bytes"
	"crypto/rsa"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/happy2234/gopnik/internal/gcrypto"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	level TEXT NOT NULL,
	document_id TEXT,
	user_id TEXT,
	session_id TEXT,
	profile_name TEXT,
	chain_id TEXT,
	parent_id TEXT,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_operation ON audit_logs (operation);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_logs_document_id ON audit_logs (document_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs (user_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_chain_id ON audit_logs (chain_id);

CREATE TABLE IF NOT EXISTS audit_trails (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	metadata JSONB NOT NULL,
	log_ids JSONB NOT NULL
);
`

// Logger is the Postgres-backed audit logger: signed inserts, typed
// convenience wrappers, query/export/cleanup, guarded by a single write
// mutex (reads need no lock).
type Logger struct {
	db         *sql.DB
	keys       *rsa.PrivateKey
	pub        *rsa.PublicKey
	autoSign   bool
	activeMu   sync.Mutex
	activeTrl  *Trail
	writeMu    sync.Mutex
}

// Open connects to databaseURL, applies the schema, and loads (or
// generates, on first start) the RSA signing key pair under
// storageDir/signing_keys/{private,public}.pem with owner-only
// permissions.
func Open(databaseURL, storageDir string, autoSign bool) (*Logger, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	keyDir := filepath.Join(storageDir, "signing_keys")
	privPath := filepath.Join(keyDir, "private.pem")
	pubPath := filepath.Join(keyDir, "public.pem")

	var kp *gcrypto.RSAKeyPair
	if _, statErr := os.Stat(privPath); statErr == nil {
		kp, err = gcrypto.LoadRSAKeyPair(privPath, pubPath)
	} else {
		if mkErr := os.MkdirAll(keyDir, 0o700); mkErr != nil {
			db.Close()
			return nil, fmt.Errorf("audit: create key dir: %w", mkErr)
		}
		kp, err = gcrypto.GenerateRSAKeyPair()
		if err == nil {
			err = kp.SavePEM(privPath, pubPath)
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: signing keys: %w", err)
	}

	return &Logger{db: db, keys: kp.Private, pub: kp.Public, autoSign: autoSign}, nil
}

// Close releases the underlying database connection.
func (l *Logger) Close() error { return l.db.Close() }

// CreateTrail starts a new active trail; subsequent LogOperation calls
// append to it until the next CreateTrail call.
func (l *Logger) CreateTrail(name string, metadata map[string]any) (Trail, error) {
	t := NewTrail(name, metadata)
	payload, err := json.Marshal(t.Metadata)
	if err != nil {
		return Trail{}, err
	}
	logIDs, _ := json.Marshal(t.LogIDs)
	if _, err := l.db.Exec(
		`INSERT INTO audit_trails (id, name, metadata, log_ids) VALUES ($1,$2,$3,$4)`,
		t.ID, t.Name, payload, logIDs,
	); err != nil {
		return Trail{}, fmt.Errorf("audit: create trail: %w", err)
	}

	l.activeMu.Lock()
	l.activeTrl = &t
	l.activeMu.Unlock()
	return t, nil
}

// Sign computes the content hash and an RSA-PSS signature over it,
// returning a copy of log with Signature populated. A log that is already
// signed is returned unchanged rather than re-signed: PSS draws its salt
// from crypto/rand, so re-signing an unchanged log would otherwise produce
// different signature bytes on every call.
func (l *Logger) Sign(log Log) (Log, error) {
	if log.IsSigned() {
		return log, nil
	}
	hash, err := log.ContentHash()
	if err != nil {
		return Log{}, err
	}
	digest, err := hex.DecodeString(hash)
	if err != nil {
		return Log{}, fmt.Errorf("audit: decode content hash: %w", err)
	}
	sig, err := gcrypto.SignPSS(l.keys, digest)
	if err != nil {
		return Log{}, fmt.Errorf("audit: sign: %w", err)
	}
	log.Signature = sig
	return log, nil
}

// Verify recomputes the content hash of log and checks its signature.
func (l *Logger) Verify(log Log) bool {
	if !log.IsSigned() {
		return false
	}
	hash, err := log.ContentHash()
	if err != nil {
		return false
	}
	digest, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	return gcrypto.VerifyPSS(l.pub, digest, log.Signature)
}

// LogOperation inserts log (signing it first when auto-sign is enabled),
// appends it to the active trail if one exists, and returns the stored
// (possibly signed) record. Insertion is retried once on failure.
func (l *Logger) LogOperation(log Log) (Log, error) {
	if l.autoSign {
		signed, err := l.Sign(log)
		if err != nil {
			return Log{}, err
		}
		log = signed
	}

	l.writeMu.Lock()
	err := l.insert(log)
	if err != nil {
		err = l.insert(log) // one retry before giving up
	}
	l.writeMu.Unlock()
	if err != nil {
		return Log{}, fmt.Errorf("audit: insert log: %w", err)
	}

	l.activeMu.Lock()
	if l.activeTrl != nil {
		l.activeTrl.Append(log.ID)
		ids, _ := json.Marshal(l.activeTrl.LogIDs)
		_, _ = l.db.Exec(`UPDATE audit_trails SET log_ids=$1 WHERE id=$2`, ids, l.activeTrl.ID)
	}
	l.activeMu.Unlock()

	return log, nil
}

func (l *Logger) insert(log Log) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(
		`INSERT INTO audit_logs (id, operation, timestamp, level, document_id, user_id, session_id, profile_name, chain_id, parent_id, payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		log.ID, log.Operation, log.Timestamp, log.Level, log.DocumentID, log.UserID,
		log.SessionID, log.ProfileName, log.ChainID, log.ParentID, payload,
	)
	return err
}

// LogDocumentOperation is a typed convenience wrapper for document-scoped
// operations, propagating chainID/parentID to reconstruct a processing
// chain.
func (l *Logger) LogDocumentOperation(op Operation, documentID, chainID, parentID, profileName string, detections map[string]int) (Log, error) {
	log := NewLog(op, LevelInfo)
	log.DocumentID = documentID
	log.ChainID = chainID
	log.ParentID = parentID
	log.ProfileName = profileName
	log.DetectionsSummary = detections
	return l.LogOperation(log)
}

// LogError is a typed convenience wrapper for error_occurred operations.
func (l *Logger) LogError(documentID, chainID, parentID string, err error) (Log, error) {
	log := NewLog(OpErrorOccurred, LevelError)
	log.DocumentID = documentID
	log.ChainID = chainID
	log.ParentID = parentID
	if err != nil {
		log.ErrorMessage = err.Error()
	}
	return l.LogOperation(log)
}

// LogSystemOperation is a typed convenience wrapper for system-level
// events (startup, shutdown, cancellation) that are not scoped to a
// document.
func (l *Logger) LogSystemOperation(op Operation, level Level, details map[string]any) (Log, error) {
	log := NewLog(op, level)
	for k, v := range details {
		log.Details[k] = v
	}
	return l.LogOperation(log)
}

// Filters narrows Query's result set; zero-valued fields are unconstrained.
type Filters struct {
	Operation  *Operation
	Level      *Level
	DocumentID *string
	UserID     *string
	Start      *time.Time
	End        *time.Time
}

// Query returns logs matching f (AND across provided filters), most recent
// first, capped at limit (0 means unlimited).
func (l *Logger) Query(f Filters, limit int) ([]Log, error) {
	query := `SELECT payload FROM audit_logs WHERE 1=1`
	var args []any
	n := 0
	add := func(clause string, val any) {
		n++
		query += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, val)
	}
	if f.Operation != nil {
		add("operation =", *f.Operation)
	}
	if f.Level != nil {
		add("level =", *f.Level)
	}
	if f.DocumentID != nil {
		add("document_id =", *f.DocumentID)
	}
	if f.UserID != nil {
		add("user_id =", *f.UserID)
	}
	if f.Start != nil {
		add("timestamp >=", *f.Start)
	}
	if f.End != nil {
		add("timestamp <=", *f.End)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		log, err := FromJSON(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

// ValidateAll sweeps every signed log and reports how many verify.
func (l *Logger) ValidateAll() (total, valid int, issues []string, err error) {
	rows, qErr := l.db.Query(`SELECT payload FROM audit_logs`)
	if qErr != nil {
		return 0, 0, nil, fmt.Errorf("audit: validate all: %w", qErr)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if scanErr := rows.Scan(&payload); scanErr != nil {
			return 0, 0, nil, scanErr
		}
		log, parseErr := FromJSON(payload)
		if parseErr != nil {
			issues = append(issues, fmt.Sprintf("log: unparseable payload: %v", parseErr))
			continue
		}
		if !log.IsSigned() {
			continue
		}
		total++
		if l.Verify(log) {
			valid++
		} else {
			issues = append(issues, fmt.Sprintf("log %s: signature verification failed", log.ID))
		}
	}
	return total, valid, issues, rows.Err()
}

// ExportJSON writes the matched logs to path inside an export envelope
// carrying the query parameters and timestamp.
func (l *Logger) ExportJSON(path string, f Filters) error {
	logs, err := l.Query(f, 0)
	if err != nil {
		return err
	}
	envelope := map[string]any{
		"export_timestamp": time.Now().UTC().Format(time.RFC3339),
		"query_params":     f,
		"total_logs":       len(logs),
		"logs":             logs,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportCSV writes the matched logs to path using a fixed column set.
func (l *Logger) ExportCSV(path string, f Filters) error {
	logs, err := l.Query(f, 0)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"ID", "Operation", "Timestamp", "Level", "Document ID", "User ID", "Profile", "Input Hash", "Output Hash", "Signed", "Error"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, log := range logs {
		row := []string{
			log.ID, string(log.Operation), log.Timestamp.Format(time.RFC3339), string(log.Level),
			log.DocumentID, log.UserID, log.ProfileName, log.InputHash, log.OutputHash,
			strconv.FormatBool(log.IsSigned()), log.ErrorMessage,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// CleanupOld deletes logs older than retentionDays and returns the count
// removed.
func (l *Logger) CleanupOld(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := l.db.Exec(`DELETE FROM audit_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}
