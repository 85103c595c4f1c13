// Package audit provides the append-only audit log for unity.
// Every remote attempt, token refresh and storage operation is recorded.
// Records form a hash chain for tamper detection.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/firecloud"
	"github.com/unity-portal/unity/internal/gcs"
)

// EventType categorizes audit log entries.
type EventType string

const (
	EventAPICall        EventType = "api_call"
	EventStorageCall    EventType = "storage_call"
	EventTokenRefreshed EventType = "token_refreshed"
	EventUserAdded      EventType = "user_added"
	EventUserRemoved    EventType = "user_removed"
	EventUserRegistered EventType = "user_registered"
	EventHealthCheck    EventType = "health_check"
)

// Record is one row of the audit log.
type Record struct {
	ID        int64
	Timestamp time.Time
	CallUUID  string
	Identity  string
	Issuer    string
	EventType EventType
	Detail    string
}

// Logger writes tamper-evident audit records to the audit database.
type Logger struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
	log      zerolog.Logger
}

// NewLogger creates an audit logger, resuming the existing chain. Write
// failures from the recorder hooks are reported to log.
func NewLogger(db *sql.DB, log zerolog.Logger) (*Logger, error) {
	al := &Logger{db: db, log: log}

	var lastHash sql.NullString
	err := db.QueryRow("SELECT record_hash FROM audit_log ORDER BY id DESC LIMIT 1").Scan(&lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	if lastHash.Valid {
		al.lastHash = lastHash.String
	}

	return al, nil
}

// Log writes an audit event and returns its call id.
func (al *Logger) Log(eventType EventType, identity, issuer string, detail any) (string, error) {
	al.mu.Lock()
	defer al.mu.Unlock()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		detailJSON = []byte(fmt.Sprintf(`{"error":"failed to marshal detail: %s"}`, err))
	}

	callID := uuid.New().String()
	now := time.Now().UTC()
	recordHash := al.computeHash(now, eventType, issuer, string(detailJSON))

	_, err = al.db.Exec(
		`INSERT INTO audit_log (timestamp, call_uuid, identity, issuer, event_type, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano),
		callID,
		identity,
		issuer,
		string(eventType),
		string(detailJSON),
		recordHash,
	)
	if err != nil {
		return "", fmt.Errorf("inserting audit record: %w", err)
	}

	al.lastHash = recordHash
	return callID, nil
}

// computeHash creates the hash chain link: SHA-256(previousHash + timestamp + eventType + issuer + detail)
func (al *Logger) computeHash(ts time.Time, eventType EventType, issuer, detail string) string {
	data := al.lastHash + ts.Format(time.RFC3339Nano) + string(eventType) + issuer + detail
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

type callDetail struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Attempt    int    `json:"attempt"`
	StatusCode int    `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RecordCall implements firecloud.CallRecorder.
func (al *Logger) RecordCall(c firecloud.Call) {
	d := callDetail{
		Method:     c.Method,
		Path:       c.Path,
		Attempt:    c.Attempt,
		StatusCode: c.StatusCode,
		DurationMS: c.Duration.Milliseconds(),
	}
	if c.Err != nil {
		d.Error = c.Err.Error()
	}
	if _, err := al.Log(EventAPICall, string(c.Identity), c.Issuer, d); err != nil {
		al.log.Warn().Err(err).Str("path", c.Path).Msg("audit write failed")
	}
}

type storageDetail struct {
	Op         string `json:"op"`
	Bucket     string `json:"bucket"`
	Object     string `json:"object"`
	Attempt    int    `json:"attempt"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RecordStorageOp implements gcs.OpRecorder. Storage always runs as the
// portal service account.
func (al *Logger) RecordStorageOp(op gcs.Op) {
	d := storageDetail{
		Op:         op.Name,
		Bucket:     op.Bucket,
		Object:     op.Object,
		Attempt:    op.Attempt,
		DurationMS: op.Duration.Milliseconds(),
	}
	if op.Err != nil {
		d.Error = op.Err.Error()
	}
	if _, err := al.Log(EventStorageCall, string(firecloud.IdentityService), "", d); err != nil {
		al.log.Warn().Err(err).Str("op", op.Name).Msg("audit write failed")
	}
}

// RefreshObserver returns a hook for firecloud.WithRefreshObserver that
// records refreshes of issuer's token.
func (al *Logger) RefreshObserver(issuer string) func(firecloud.IdentityKind, error) {
	return func(kind firecloud.IdentityKind, err error) {
		detail := map[string]any{"ok": err == nil}
		if err != nil {
			detail["error"] = err.Error()
		}
		if _, lerr := al.Log(EventTokenRefreshed, string(kind), issuer, detail); lerr != nil {
			al.log.Warn().Err(lerr).Str("issuer", issuer).Msg("audit write failed")
		}
	}
}

// Recent returns up to limit records, newest first. eventType filters
// when non-empty.
func Recent(db *sql.DB, eventType EventType, limit int) ([]Record, error) {
	query := "SELECT id, timestamp, call_uuid, identity, issuer, event_type, detail FROM audit_log"
	var args []any
	if eventType != "" {
		query += " WHERE event_type = ?"
		args = append(args, string(eventType))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts, et string
		if err := rows.Scan(&r.ID, &ts, &r.CallUUID, &r.Identity, &r.Issuer, &et, &r.Detail); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.EventType = EventType(et)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Verify checks the integrity of the audit chain.
func Verify(db *sql.DB) (bool, int, error) {
	rows, err := db.Query(
		"SELECT timestamp, event_type, issuer, detail, record_hash FROM audit_log ORDER BY id ASC",
	)
	if err != nil {
		return false, 0, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0

	for rows.Next() {
		var ts, eventType, issuer, detail, recordHash string
		if err := rows.Scan(&ts, &eventType, &issuer, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning audit row: %w", err)
		}

		data := previousHash + ts + eventType + issuer + detail
		h := sha256.Sum256([]byte(data))
		expected := hex.EncodeToString(h[:])

		if expected != recordHash {
			return false, count, fmt.Errorf("audit chain broken at record %d", count+1)
		}

		previousHash = recordHash
		count++
	}

	return true, count, nil
}
