package audit

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/db"
	"github.com/unity-portal/unity/internal/firecloud"
	"github.com/unity-portal/unity/internal/gcs"
)

func setupAuditDB(t *testing.T) *sql.DB {
	t.Helper()
	adb, err := db.OpenAuditDB(t.TempDir())
	if err != nil {
		t.Fatalf("opening audit db: %v", err)
	}
	t.Cleanup(func() { adb.Close() })
	return adb
}

func newLogger(t *testing.T, adb *sql.DB) *Logger {
	t.Helper()
	logger, err := NewLogger(adb, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	return logger
}

func TestLogAndVerify(t *testing.T) {
	adb := setupAuditDB(t)
	logger := newLogger(t, adb)

	logger.Log(EventAPICall, "service", "portal@example.iam.gserviceaccount.com", map[string]string{"path": "/api/workspaces"})
	logger.Log(EventUserAdded, "user", "a@example.com", map[string]string{"uuid": "u-1"})
	id, err := logger.Log(EventHealthCheck, "service", "", map[string]bool{"ok": true})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if id == "" {
		t.Error("expected a call id")
	}

	valid, count, err := Verify(adb)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected valid chain")
	}
	if count != 3 {
		t.Errorf("expected 3 records, got %d", count)
	}
}

func TestChainTamperDetection(t *testing.T) {
	adb := setupAuditDB(t)
	logger := newLogger(t, adb)

	logger.Log(EventAPICall, "service", "", map[string]string{"a": "1"})
	logger.Log(EventAPICall, "service", "", map[string]string{"b": "2"})
	logger.Log(EventAPICall, "service", "", map[string]string{"c": "3"})

	adb.Exec("UPDATE audit_log SET detail = '{\"tampered\":true}' WHERE id = 2")

	valid, _, err := Verify(adb)
	if err == nil {
		t.Error("expected error from tampered chain")
	}
	if valid {
		t.Error("expected invalid chain after tampering")
	}
}

func TestEmptyChainIsValid(t *testing.T) {
	adb := setupAuditDB(t)

	valid, count, err := Verify(adb)
	if err != nil {
		t.Fatalf("verify empty: %v", err)
	}
	if !valid {
		t.Error("expected empty chain to be valid")
	}
	if count != 0 {
		t.Errorf("expected 0 records, got %d", count)
	}
}

func TestNewLoggerRecoversPreviousHash(t *testing.T) {
	adb := setupAuditDB(t)

	newLogger(t, adb).Log(EventAPICall, "service", "", map[string]string{"first": "event"})
	newLogger(t, adb).Log(EventStorageCall, "service", "", map[string]string{"second": "event"})

	valid, count, err := Verify(adb)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid {
		t.Error("expected valid chain after logger recovery")
	}
	if count != 2 {
		t.Errorf("expected 2 records, got %d", count)
	}
}

func TestRecorderHooks(t *testing.T) {
	adb := setupAuditDB(t)
	logger := newLogger(t, adb)

	var _ firecloud.CallRecorder = logger
	var _ gcs.OpRecorder = logger

	logger.RecordCall(firecloud.Call{
		Issuer:     "a@example.com",
		Identity:   firecloud.IdentityUser,
		Method:     http.MethodGet,
		Path:       "/api/workspaces/ns/ws",
		Attempt:    2,
		StatusCode: 500,
		Duration:   120 * time.Millisecond,
		Err:        errors.New("boom"),
	})
	logger.RecordStorageOp(gcs.Op{Name: "delete_file", Bucket: "fc-1", Object: "a.txt", Attempt: 1})
	logger.RefreshObserver("a@example.com")(firecloud.IdentityUser, nil)

	recs, err := Recent(adb, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].EventType != EventTokenRefreshed || recs[0].Issuer != "a@example.com" {
		t.Errorf("newest record = %+v", recs[0])
	}
	if recs[1].EventType != EventStorageCall || !strings.Contains(recs[1].Detail, `"op":"delete_file"`) {
		t.Errorf("storage record = %+v", recs[1])
	}
	call := recs[2]
	if call.EventType != EventAPICall || call.Identity != "user" {
		t.Errorf("call record = %+v", call)
	}
	for _, want := range []string{`"attempt":2`, `"status_code":500`, `"error":"boom"`, `"duration_ms":120`} {
		if !strings.Contains(call.Detail, want) {
			t.Errorf("call detail %s missing %s", call.Detail, want)
		}
	}

	calls, err := Recent(adb, EventAPICall, 10)
	if err != nil {
		t.Fatalf("Recent filtered: %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("expected 1 api_call record, got %d", len(calls))
	}
}
