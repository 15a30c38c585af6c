// Package layout computes the canonical on-disk locations for staged batches
// and defends every derived path against escaping its parent.
//
// Directory layout under the configured root:
//
//	{root}/{tenant}/completed/{batch}/            canonical finished batches
//	{root}/{tenant}/in_progress/{name}/           transient upload attempts
//
// where {name} is "{timestamp}-{uploaderID}-{serviceID}-{batch}". The
// timestamp format contains no '-' so the name splits unambiguously into four
// fields even when the batch id itself contains dashes. The naming scheme is
// a parsable protocol: ParseInProgressName recovers the owning uploader and
// service instance from a directory name, which is how cooperating instances
// sharing one volume tell their own uploads apart from peers' without any
// coordination.
package layout

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docstage/docstage/internal/identity"
	"github.com/docstage/docstage/internal/uid"
)

const (
	// completedDirName is the per-tenant directory holding finished batches.
	completedDirName = "completed"
	// inProgressDirName is the per-tenant directory holding upload attempts.
	inProgressDirName = "in_progress"
	// nameTimeFormat is the ISO-8601-ish timestamp used in in-progress and
	// sub-batch file names. It deliberately contains no '-'. The trailing
	// "Z" is appended literally; timestamps are always UTC.
	nameTimeFormat = "20060102T150405.000"
)

// processServiceID is the process-wide random service instance identifier,
// generated once at startup. It is embedded in every in-progress directory
// name this process creates.
var processServiceID = uid.Short()

// ServiceID returns the process-wide service instance identifier.
func ServiceID() string { return processServiceID }

// Layout resolves tenant- and batch-scoped paths under a fixed base root.
// All methods are pure path computations except NewInProgressBatchPath,
// which also creates the directory.
type Layout struct {
	// Root is the base directory under which all tenant data lives.
	Root string
	// InstanceID identifies this service instance in in-progress directory
	// names. Defaults to the process-wide random identifier.
	InstanceID string
}

// New creates a Layout rooted at the given directory, creating the root if
// it does not exist.
func New(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", abs, err)
	}
	return &Layout{Root: abs, InstanceID: processServiceID}, nil
}

// TenantRoot returns the base directory for a tenant.
func (l *Layout) TenantRoot(tenant identity.TenantID) (string, error) {
	return l.contained(l.Root, tenant.Value())
}

// CompletedRoot returns the directory holding a tenant's finished batches.
func (l *Layout) CompletedRoot(tenant identity.TenantID) (string, error) {
	return l.contained(l.Root, tenant.Value(), completedDirName)
}

// InProgressRoot returns the directory holding a tenant's upload attempts.
func (l *Layout) InProgressRoot(tenant identity.TenantID) (string, error) {
	return l.contained(l.Root, tenant.Value(), inProgressDirName)
}

// CompletedBatchPath returns the canonical directory of a finished batch.
// Its existence is the sole signal that the batch is complete.
func (l *Layout) CompletedBatchPath(tenant identity.TenantID, batch identity.BatchID) (string, error) {
	return l.contained(l.Root, tenant.Value(), completedDirName, batch.Value())
}

// CompletedBatchPrefix returns the storage-relative path prefix the batch
// will have once completed, using forward slashes. storage_ref field values
// are written relative to this prefix.
func CompletedBatchPrefix(tenant identity.TenantID, batch identity.BatchID) string {
	return path.Join(tenant.Value(), completedDirName, batch.Value())
}

// NewInProgressBatchPath builds a fresh, uniquely named in-progress working
// directory for one upload attempt, creates it (and parents), and returns its
// path. Uniqueness is by construction: millisecond timestamp, per-process
// uploader sequence number, and the process-random service instance id.
func (l *Layout) NewInProgressBatchPath(tenant identity.TenantID, batch identity.BatchID, uploaderID uint64) (string, error) {
	name := NameTimestamp(time.Now()) +
		"-" + strconv.FormatUint(uploaderID, 10) +
		"-" + l.InstanceID +
		"-" + batch.Value()
	dir, err := l.contained(l.Root, tenant.Value(), inProgressDirName, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating in-progress directory %q: %w", dir, err)
	}
	return dir, nil
}

// NameTimestamp formats t for use in in-progress directory and sub-batch
// file names: UTC, millisecond precision, no '-', lexically ordered.
func NameTimestamp(t time.Time) string {
	return t.UTC().Format(nameTimeFormat) + "Z"
}

// InProgressInfo is the decoded form of an in-progress directory name.
type InProgressInfo struct {
	// Timestamp is when the upload attempt created its working directory.
	Timestamp time.Time
	// UploaderID is the owning upload's per-process sequence number.
	UploaderID uint64
	// ServiceID identifies the service instance that owns the directory.
	ServiceID string
	// BatchID is the raw batch identifier the upload targets.
	BatchID string
}

// ParseInProgressName decodes an in-progress directory name back into its
// components. Returns false for names that do not follow the scheme (stray
// files, other tooling's directories).
func ParseInProgressName(name string) (InProgressInfo, bool) {
	parts := strings.SplitN(name, "-", 4)
	if len(parts) != 4 {
		return InProgressInfo{}, false
	}
	stamp, ok := strings.CutSuffix(parts[0], "Z")
	if !ok {
		return InProgressInfo{}, false
	}
	ts, err := time.Parse(nameTimeFormat, stamp)
	if err != nil {
		return InProgressInfo{}, false
	}
	uploaderID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return InProgressInfo{}, false
	}
	if parts[2] == "" || parts[3] == "" {
		return InProgressInfo{}, false
	}
	return InProgressInfo{
		Timestamp:  ts.UTC(),
		UploaderID: uploaderID,
		ServiceID:  parts[2],
		BatchID:    parts[3],
	}, true
}

// Owns reports whether the decoded in-progress directory belongs to this
// running instance.
func (l *Layout) Owns(info InProgressInfo) bool {
	return info.ServiceID == l.InstanceID
}

// contained joins elems under parent and verifies the cleaned result still
// starts with parent. Identifier validation should already have excluded
// every escaping input, so a violation here is an invariant bug, not a user
// error.
func (l *Layout) contained(parent string, elems ...string) (string, error) {
	p := filepath.Join(append([]string{parent}, elems...)...)
	p = filepath.Clean(p)
	if p != parent && !strings.HasPrefix(p, parent+string(filepath.Separator)) {
		return "", fmt.Errorf("layout invariant violated: path %q escapes %q", p, parent)
	}
	return p, nil
}
