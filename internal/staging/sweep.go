package staging

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docstage/docstage/internal/identity"
	"github.com/docstage/docstage/internal/layout"
	"github.com/docstage/docstage/internal/metrics"
)

// CleanStale removes in-progress directories whose contents have not changed
// for longer than maxAge. These are leftovers of crashed or disconnected
// uploads (this instance's dead predecessors, or peers') that no cleanup
// path could reach. Runs on startup as part of crash-only recovery
// and optionally on a timer. Best effort: failures are logged and skipped.
func (s *Stager) CleanStale(maxAge time.Duration) {
	tenants, err := os.ReadDir(s.Layout.Root)
	if err != nil {
		slog.Warn("Stale sweep: reading storage root failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-maxAge)

	for _, tenant := range tenants {
		if !tenant.IsDir() {
			continue
		}
		id, err := identity.NewTenantID(tenant.Name())
		if err != nil {
			// Not a tenant directory this service created.
			continue
		}
		inProgress, err := s.Layout.InProgressRoot(id)
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(inProgress)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if _, ok := layout.ParseInProgressName(entry.Name()); !ok {
				continue
			}
			dir := filepath.Join(inProgress, entry.Name())
			last, err := newestModTime(dir)
			if err != nil || !last.Before(cutoff) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("Stale sweep: removing directory failed", "dir", dir, "error", err)
				continue
			}
			metrics.StaleDirsSweptTotal.Inc()
			slog.Info("Removed stale in-progress directory", "dir", dir, "last_write", last)
		}
	}
}

// RunStaleSweeper re-runs CleanStale every interval until ctx is cancelled.
func (s *Stager) RunStaleSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanStale(maxAge)
		}
	}
}

// newestModTime returns the most recent modification time under dir.
func newestModTime(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newest, nil
}
