package progress

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/identity"
	"github.com/docstage/docstage/internal/layout"
)

// Metric is one in-flight upload's contribution to a batch status report.
// Local metrics come from this instance's in-memory records; remote metrics
// are synthesized from two filesystem snapshots of another instance's
// in-progress directory.
type Metric struct {
	// Source is "local" or "remote".
	Source string `json:"source"`
	// ServiceID identifies the owning service instance.
	ServiceID string `json:"service_id"`
	// UploaderID is the owning upload's sequence number on its instance.
	UploaderID uint64 `json:"uploader_id"`
	// Bytes is the cumulative byte count observed.
	Bytes int64 `json:"bytes"`
	// BytesPerSecond is the instantaneous transfer rate.
	BytesPerSecond float64 `json:"bytes_per_second"`
	// Progressing reports whether the upload moved between observations.
	Progressing bool `json:"progressing"`
	// UpdatedAt is when the metric was last refreshed or sampled.
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the merged view of one batch across all instances.
type Status struct {
	Complete bool     `json:"complete"`
	Metrics  []Metric `json:"metrics,omitempty"`
}

// dirSnapshot is one size/mtime observation of an in-progress directory.
type dirSnapshot struct {
	size  int64
	mtime time.Time
}

// Status reports the merged upload status of (tenant, batch). Remote
// instances' uploads are estimated from two snapshots taken one second
// apart, so the caller blocks for at least one second by design.
func (t *Tracker) Status(ctx context.Context, tenant identity.TenantID, batch identity.BatchID) (*Status, error) {
	// Find other instances' in-flight uploads of this batch.
	remoteDirs, scanErr := t.remoteInProgressDirs(tenant, batch)

	first := make(map[string]dirSnapshot, len(remoteDirs))
	var snapErrs []error
	for _, dir := range remoteDirs {
		snap, err := snapshotDir(dir)
		if err != nil {
			snapErrs = append(snapErrs, err)
			continue
		}
		first[dir] = snap
	}
	if scanErr != nil {
		snapErrs = append(snapErrs, scanErr)
	}

	if len(first) > 0 {
		select {
		case <-time.After(t.sleep):
		case <-ctx.Done():
			return nil, stageerr.ErrStatusUnavailable.WithMessage("status sampling interrupted: %v", ctx.Err())
		}
	}

	var remote []Metric
	for dir, before := range first {
		after, err := snapshotDir(dir)
		if err != nil {
			// The upload finished or was aborted between samples.
			snapErrs = append(snapErrs, err)
			continue
		}
		info, _ := layout.ParseInProgressName(filepath.Base(dir))
		remote = append(remote, Metric{
			Source:         "remote",
			ServiceID:      info.ServiceID,
			UploaderID:     info.UploaderID,
			Bytes:          after.size,
			BytesPerSecond: float64(after.size-before.size) / t.sleep.Seconds(),
			Progressing:    after.size > before.size || after.mtime.After(before.mtime),
			UpdatedAt:      after.mtime,
		})
	}

	local := t.localRecords(tenant, batch)

	// Completion is decided last: the completed directory may have appeared
	// while we were sampling.
	completedPath, err := t.layout.CompletedBatchPath(tenant, batch)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(completedPath); err == nil {
		return &Status{Complete: true}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: checking completed batch: %v", stageerr.ErrStagingFailure, err)
	}

	if len(remote) == 0 && len(local) == 0 {
		if len(snapErrs) > 0 {
			return nil, fmt.Errorf("%w: sampling in-progress uploads: %v", stageerr.ErrStagingFailure, snapErrs[0])
		}
		return nil, stageerr.ErrNoSuchBatch
	}

	metrics := make([]Metric, 0, len(local)+len(remote))
	for _, rec := range local {
		metrics = append(metrics, Metric{
			Source:         "local",
			ServiceID:      t.layout.InstanceID,
			UploaderID:     rec.Key.UploaderID,
			Bytes:          rec.Bytes,
			BytesPerSecond: rec.BytesPerSecond,
			Progressing:    rec.Progressing,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	metrics = append(metrics, remote...)

	return &Status{Complete: false, Metrics: metrics}, nil
}

// remoteInProgressDirs lists in-progress directories of (tenant, batch) that
// belong to other service instances.
func (t *Tracker) remoteInProgressDirs(tenant identity.TenantID, batch identity.BatchID) ([]string, error) {
	root, err := t.layout.InProgressRoot(tenant)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading in-progress root: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, ok := layout.ParseInProgressName(entry.Name())
		if !ok || info.BatchID != batch.Value() || t.layout.Owns(info) {
			continue
		}
		dirs = append(dirs, filepath.Join(root, entry.Name()))
	}
	return dirs, nil
}

// snapshotDir sums file sizes and takes the newest mtime under dir.
func snapshotDir(dir string) (dirSnapshot, error) {
	var snap dirSnapshot
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() {
			snap.size += info.Size()
		}
		if info.ModTime().After(snap.mtime) {
			snap.mtime = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return dirSnapshot{}, err
	}
	return snap, nil
}
