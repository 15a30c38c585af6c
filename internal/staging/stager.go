// Package staging implements the orchestrator that drives an upload end to
// end: a fresh uniquely named in-progress directory, the rewrite/sub-batch
// pipeline for every part, and the atomic directory replace into the
// completed area on success. On any failure the working directory is
// deleted; no partial batch is ever visible under the completed root.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/identity"
	"github.com/docstage/docstage/internal/layout"
	"github.com/docstage/docstage/internal/metrics"
	"github.com/docstage/docstage/internal/progress"
	"github.com/docstage/docstage/internal/rewrite"
	"github.com/docstage/docstage/internal/subbatch"
)

// DefaultListLimit is the page size of GetBatches when the caller does not
// supply one.
const DefaultListLimit = 25

// CommitInfo describes one successfully completed batch staging. It is
// handed to the OnCommit hook after the atomic move.
type CommitInfo struct {
	Tenant      string
	Batch       string
	Documents   int
	SubBatches  int
	Attachments int
	Bytes       int64
	CompletedAt time.Time
	// Dir is the completed batch directory.
	Dir string
}

// Stager orchestrates batch staging over a shared storage volume.
type Stager struct {
	Layout  *layout.Layout
	Tracker *progress.Tracker

	// SubBatchMaxDocuments is the per-sub-batch-file document cap.
	SubBatchMaxDocuments int
	// ExternalizeThreshold is the field-value size in bytes above which
	// inline document data is written to a loose file.
	ExternalizeThreshold int
	// Validator, when non-nil, checks every document against the document
	// schema.
	Validator *rewrite.Validator
	// OnCommit, when non-nil, runs after each successful commit. Failures
	// are the hook's problem; staging has already succeeded.
	OnCommit func(context.Context, CommitInfo)
}

// CreateOrReplaceBatch stages one batch from the ordered part stream and
// atomically replaces any previously completed batch under the same id.
func (s *Stager) CreateOrReplaceBatch(ctx context.Context, rawTenant, rawBatch string, parts PartStream) error {
	tenant, err := identity.NewTenantID(rawTenant)
	if err != nil {
		return err
	}
	batch, err := identity.NewBatchID(rawBatch)
	if err != nil {
		return err
	}

	uploaderID := progress.NextUploaderID()
	upload := s.Tracker.Start(tenant, batch, uploaderID)
	defer upload.Close()
	if pa, ok := parts.(ProgressAware); ok {
		pa.SetReporter(upload.Report)
	}

	metrics.ActiveUploads.Inc()
	defer metrics.ActiveUploads.Dec()

	dir, err := s.Layout.NewInProgressBatchPath(tenant, batch, uploaderID)
	if err != nil {
		metrics.StagingOperationsTotal.WithLabelValues("CreateOrReplaceBatch", "error").Inc()
		return fmt.Errorf("%w: %v", stageerr.ErrStagingFailure, err)
	}

	writer := &subbatch.Writer{Dir: dir, MaxDocuments: s.SubBatchMaxDocuments}
	rewriter := &rewrite.Rewriter{
		StoragePrefix: layout.CompletedBatchPrefix(tenant, batch),
		FilesDir:      filepath.Join(dir, subbatch.FilesDirName),
		Threshold:     s.ExternalizeThreshold,
		Uploaded:      make(map[string]string),
	}

	info, err := s.consumeParts(parts, writer, rewriter)
	if err != nil {
		s.discard(writer, dir)
		metrics.StagingOperationsTotal.WithLabelValues("CreateOrReplaceBatch", "error").Inc()
		return classifyUploadError(err)
	}

	if err := writer.Close(); err != nil {
		s.discard(writer, dir)
		metrics.StagingOperationsTotal.WithLabelValues("CreateOrReplaceBatch", "error").Inc()
		return err
	}

	completed, err := s.commit(tenant, batch, dir)
	if err != nil {
		s.discard(writer, dir)
		metrics.StagingOperationsTotal.WithLabelValues("CreateOrReplaceBatch", "error").Inc()
		return err
	}

	metrics.StagingOperationsTotal.WithLabelValues("CreateOrReplaceBatch", "success").Inc()
	metrics.DocumentsStagedTotal.Add(float64(writer.Documents()))
	metrics.SubBatchFilesTotal.Add(float64(writer.SubBatches()))
	metrics.BytesReceivedTotal.Add(float64(info.Bytes))

	if s.OnCommit != nil {
		info.Tenant = tenant.Value()
		info.Batch = batch.Value()
		info.Documents = writer.Documents()
		info.SubBatches = writer.SubBatches()
		info.CompletedAt = time.Now().UTC()
		info.Dir = completed
		s.OnCommit(ctx, info)
	}
	return nil
}

// consumeParts feeds every part through the rewrite/sub-batch pipeline,
// attachments first recorded into the rewriter's uploaded-files map so later
// documents can resolve local_ref values against them.
func (s *Stager) consumeParts(parts PartStream, writer *subbatch.Writer, rewriter *rewrite.Rewriter) (CommitInfo, error) {
	var info CommitInfo
	for {
		part, err := parts.Next()
		if err == io.EOF {
			return info, nil
		}
		if err != nil {
			return info, fmt.Errorf("%w: reading upload part: %v", stageerr.ErrIncompleteBatch, err)
		}

		if part.ContentType == DocumentContentType {
			body := part.Body
			if s.Validator != nil {
				// Validate before any of the document reaches a sub-batch
				// file; a rejected document is never emitted.
				raw, err := io.ReadAll(body)
				if err != nil {
					return info, err
				}
				if err := s.Validator.Validate(raw); err != nil {
					return info, err
				}
				body = bytes.NewReader(raw)
			}
			counted := &countingReader{r: body}
			err := writer.WriteDocument(func(sink io.Writer) error {
				return rewriter.Rewrite(counted, sink)
			})
			if err != nil {
				return info, err
			}
			info.Bytes += counted.n
			continue
		}

		stored, n, err := writer.WriteAttachment(part.Name, part.Body)
		if err != nil {
			return info, err
		}
		rewriter.Uploaded[part.Name] = stored
		if base := filepath.Base(stored); base != part.Name {
			rewriter.Uploaded[base] = stored
		}
		info.Attachments++
		info.Bytes += n
	}
}

// commit promotes the fully written in-progress directory to the completed
// location. Deleting a pre-existing completed batch and the rename are two
// steps; only the rename is atomic, so last writer wins across a crash
// between them.
func (s *Stager) commit(tenant identity.TenantID, batch identity.BatchID, dir string) (string, error) {
	completed, err := s.Layout.CompletedBatchPath(tenant, batch)
	if err != nil {
		return "", fmt.Errorf("%w: %v", stageerr.ErrStagingFailure, err)
	}
	if err := os.MkdirAll(filepath.Dir(completed), 0o755); err != nil {
		return "", fmt.Errorf("%w: creating completed root: %v", stageerr.ErrStagingFailure, err)
	}
	if _, err := os.Stat(completed); err == nil {
		if err := os.RemoveAll(completed); err != nil {
			return "", fmt.Errorf("%w: removing previous completed batch: %v", stageerr.ErrStagingFailure, err)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: checking completed batch: %v", stageerr.ErrStagingFailure, err)
	}
	if err := os.Rename(dir, completed); err != nil {
		return "", fmt.Errorf("%w: promoting batch: %v", stageerr.ErrStagingFailure, err)
	}
	return completed, nil
}

// discard closes the writer and deletes the in-progress directory. Cleanup
// failures are logged, not returned; the original error is more actionable.
func (s *Stager) discard(writer *subbatch.Writer, dir string) {
	if err := writer.Close(); err != nil {
		slog.Warn("Closing sub-batch writer during cleanup failed", "dir", dir, "error", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("Removing in-progress directory failed", "dir", dir, "error", err)
	}
}

// classifyUploadError maps pipeline failures onto the error taxonomy.
// Errors already carrying a taxonomy code pass through; anything else came
// from the upload stream and counts as an incomplete batch.
func classifyUploadError(err error) error {
	var se *stageerr.StageError
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("%w: %v", stageerr.ErrIncompleteBatch, err)
}

// GetBatches lists completed batch ids for a tenant, ascending, optionally
// filtered by prefix and a strictly-greater-than cursor, truncated to limit
// (default 25). An unknown tenant yields an empty list, not an error.
func (s *Stager) GetBatches(rawTenant, startsWith, from string, limit int) ([]string, error) {
	tenant, err := identity.NewTenantID(rawTenant)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, stageerr.ErrInvalidArgument.WithMessage("limit must not be negative")
	}
	if limit == 0 {
		limit = DefaultListLimit
	}

	root, err := s.Layout.CompletedRoot(tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stageerr.ErrStagingFailure, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: listing completed batches: %v", stageerr.ErrStagingFailure, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if startsWith != "" && !strings.HasPrefix(name, startsWith) {
			continue
		}
		if from != "" && name <= from {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// DeleteBatch removes a completed batch. Only whole-batch deletion is
// supported; completed batches are otherwise immutable.
func (s *Stager) DeleteBatch(rawTenant, rawBatch string) error {
	tenant, err := identity.NewTenantID(rawTenant)
	if err != nil {
		return err
	}
	batch, err := identity.NewBatchID(rawBatch)
	if err != nil {
		return err
	}

	completed, err := s.Layout.CompletedBatchPath(tenant, batch)
	if err != nil {
		return fmt.Errorf("%w: %v", stageerr.ErrStagingFailure, err)
	}
	if _, err := os.Stat(completed); err != nil {
		if os.IsNotExist(err) {
			return stageerr.ErrNoSuchBatch
		}
		return fmt.Errorf("%w: checking completed batch: %v", stageerr.ErrStagingFailure, err)
	}
	if err := os.RemoveAll(completed); err != nil {
		return fmt.Errorf("%w: deleting completed batch: %v", stageerr.ErrStagingFailure, err)
	}
	metrics.StagingOperationsTotal.WithLabelValues("DeleteBatch", "success").Inc()
	return nil
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
