package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mkInProgress(t *testing.T, s *Stager, tenant, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(s.Layout.Root, tenant, "in_progress", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20260101T000000.000Z-json.batch"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		for _, p := range []string{filepath.Join(dir, "20260101T000000.000Z-json.batch"), dir} {
			if err := os.Chtimes(p, old, old); err != nil {
				t.Fatalf("Chtimes failed: %v", err)
			}
		}
	}
	return dir
}

func TestCleanStale(t *testing.T) {
	s := newTestStager(t)
	stale := mkInProgress(t, s, "acme", "20260101T000000.000Z-1-deadsvc-b1", 2*time.Hour)
	fresh := mkInProgress(t, s, "acme", "20260101T000000.000Z-2-livesvc-b2", 0)
	// A directory that does not follow the naming scheme is never touched,
	// however old it looks.
	foreign := filepath.Join(s.Layout.Root, "acme", "in_progress", "lost+found")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(foreign, old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	mkCompleted(t, s, "acme", "done")

	s.CleanStale(time.Hour)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale in-progress directory survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh in-progress directory removed: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("unrecognized directory removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Layout.Root, "acme", "completed", "done")); err != nil {
		t.Errorf("completed batch touched by the sweep: %v", err)
	}
}

func TestCleanStaleRecentWriteKeepsDir(t *testing.T) {
	s := newTestStager(t)
	dir := mkInProgress(t, s, "acme", "20260101T000000.000Z-1-svc-b1", 2*time.Hour)
	// One recent write anywhere under the directory resets its age.
	if err := os.WriteFile(filepath.Join(dir, "files"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s.CleanStale(time.Hour)

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory with a recent write was swept: %v", err)
	}
}
