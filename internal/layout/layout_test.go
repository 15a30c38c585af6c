package layout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docstage/docstage/internal/identity"
)

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func mustTenant(t *testing.T, raw string) identity.TenantID {
	t.Helper()
	id, err := identity.NewTenantID(raw)
	if err != nil {
		t.Fatalf("NewTenantID(%q) failed: %v", raw, err)
	}
	return id
}

func mustBatch(t *testing.T, raw string) identity.BatchID {
	t.Helper()
	id, err := identity.NewBatchID(raw)
	if err != nil {
		t.Fatalf("NewBatchID(%q) failed: %v", raw, err)
	}
	return id
}

func TestPaths(t *testing.T) {
	l := newTestLayout(t)
	tenant := mustTenant(t, "acme")
	batch := mustBatch(t, "b-1")

	completed, err := l.CompletedBatchPath(tenant, batch)
	if err != nil {
		t.Fatalf("CompletedBatchPath failed: %v", err)
	}
	want := filepath.Join(l.Root, "acme", "completed", "b-1")
	if completed != want {
		t.Errorf("CompletedBatchPath = %q, want %q", completed, want)
	}

	inProgress, err := l.InProgressRoot(tenant)
	if err != nil {
		t.Fatalf("InProgressRoot failed: %v", err)
	}
	if inProgress != filepath.Join(l.Root, "acme", "in_progress") {
		t.Errorf("InProgressRoot = %q", inProgress)
	}
}

func TestCompletedBatchPrefix(t *testing.T) {
	tenant := mustTenant(t, "acme")
	batch := mustBatch(t, "b-1")
	if got := CompletedBatchPrefix(tenant, batch); got != "acme/completed/b-1" {
		t.Errorf("CompletedBatchPrefix = %q", got)
	}
}

func TestNewInProgressBatchPathCreatesAndParses(t *testing.T) {
	l := newTestLayout(t)
	tenant := mustTenant(t, "acme")
	batch := mustBatch(t, "batch-with-dashes")

	dir, err := l.NewInProgressBatchPath(tenant, batch, 7)
	if err != nil {
		t.Fatalf("NewInProgressBatchPath failed: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	info, ok := ParseInProgressName(filepath.Base(dir))
	if !ok {
		t.Fatalf("ParseInProgressName(%q) failed", filepath.Base(dir))
	}
	if info.UploaderID != 7 {
		t.Errorf("UploaderID = %d, want 7", info.UploaderID)
	}
	if info.ServiceID != l.InstanceID {
		t.Errorf("ServiceID = %q, want %q", info.ServiceID, l.InstanceID)
	}
	if info.BatchID != "batch-with-dashes" {
		t.Errorf("BatchID = %q, want %q", info.BatchID, "batch-with-dashes")
	}
	if !l.Owns(info) {
		t.Error("Owns = false for a directory this instance created")
	}
}

func TestNameTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	name := NameTimestamp(ts)
	if strings.Contains(name, "-") {
		t.Fatalf("NameTimestamp(%v) = %q contains a dash", ts, name)
	}
	if name != "20260314T150926.535Z" {
		t.Errorf("NameTimestamp = %q", name)
	}

	full := name + "-12-svc01-my-batch"
	info, ok := ParseInProgressName(full)
	if !ok {
		t.Fatalf("ParseInProgressName(%q) failed", full)
	}
	if !info.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", info.Timestamp, ts)
	}
	if info.BatchID != "my-batch" {
		t.Errorf("BatchID = %q, want my-batch (dashes inside the batch id must survive)", info.BatchID)
	}
}

func TestParseInProgressNameRejects(t *testing.T) {
	bad := []string{
		"",
		"not-a-timestamp-at-all",
		"20260314T150926.535Z-notanumber-svc-batch",
		"20260314T150926.535Z-12-svc",      // only three fields
		"20260314T150926.535-12-svc-batch", // missing Z
		"20260314T150926.535Z-12--batch",   // empty service id
		"20260314T150926.535Z-12-svc-",     // empty batch id
	}
	for _, name := range bad {
		if _, ok := ParseInProgressName(name); ok {
			t.Errorf("ParseInProgressName(%q) succeeded, want rejection", name)
		}
	}
}

func TestOwnsForeignDirectory(t *testing.T) {
	l := newTestLayout(t)
	info, ok := ParseInProgressName("20260314T150926.535Z-3-someoneelse-b")
	if !ok {
		t.Fatal("ParseInProgressName failed")
	}
	if l.Owns(info) {
		t.Error("Owns = true for another instance's directory")
	}
}
