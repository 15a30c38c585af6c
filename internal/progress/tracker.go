// Package progress maintains in-flight upload progress for the local
// instance and derives cross-instance batch status from the shared
// filesystem.
package progress

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docstage/docstage/internal/identity"
	"github.com/docstage/docstage/internal/layout"
)

// uploaderSeq allocates per-process uploader identifiers. Together with the
// process-random service id this makes in-progress directory names and
// progress keys unique without locking.
var uploaderSeq atomic.Uint64

// NextUploaderID returns a fresh uploader identifier for one upload attempt.
func NextUploaderID() uint64 {
	return uploaderSeq.Add(1)
}

// Key identifies one in-flight upload's progress record.
type Key struct {
	Tenant     string
	Batch      string
	UploaderID uint64
}

// Record is the ephemeral progress state of one local in-flight upload.
// Records are lost on restart; the batch's own on-disk timestamps are the
// recovery source for other instances.
type Record struct {
	Key            Key
	StartedAt      time.Time
	UpdatedAt      time.Time
	Bytes          int64
	BytesPerSecond float64
	// Progressing is always true for a live local upload; it exists so local
	// and filesystem-derived remote reports share one shape.
	Progressing bool
}

// Tracker holds the process-wide progress map and answers status queries.
// All methods are safe for concurrent use.
type Tracker struct {
	layout *layout.Layout

	mu      sync.Mutex
	records map[Key]*Record

	// sleep is the inter-snapshot delay of Status, overridable in tests.
	sleep time.Duration
}

// NewTracker creates a Tracker that resolves remote in-progress directories
// through the given layout.
func NewTracker(l *layout.Layout) *Tracker {
	return &Tracker{
		layout:  l,
		records: make(map[Key]*Record),
		sleep:   time.Second,
	}
}

// Upload is the scoped handle for one upload attempt's progress record.
// Close removes the record and must run on every exit path.
type Upload struct {
	tracker *Tracker
	key     Key
	started time.Time
}

// Start registers a progress record for a new upload attempt and returns the
// scoped handle that owns it.
func (t *Tracker) Start(tenant identity.TenantID, batch identity.BatchID, uploaderID uint64) *Upload {
	now := time.Now()
	key := Key{Tenant: tenant.Value(), Batch: batch.Value(), UploaderID: uploaderID}

	t.mu.Lock()
	t.records[key] = &Record{
		Key:         key,
		StartedAt:   now,
		UpdatedAt:   now,
		Progressing: true,
	}
	t.mu.Unlock()

	return &Upload{tracker: t, key: key, started: now}
}

// Report refreshes the upload's record with the cumulative byte count read so
// far. The transport layer calls this at coarse milestones (per-megabyte),
// so the instantaneous rate is cumulative bytes over elapsed time.
func (u *Upload) Report(totalBytes int64) {
	now := time.Now()
	elapsed := now.Sub(u.started).Milliseconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(totalBytes) / float64(elapsed) * 1000
	}

	t := u.tracker
	t.mu.Lock()
	if rec, ok := t.records[u.key]; ok {
		rec.UpdatedAt = now
		rec.Bytes = totalBytes
		rec.BytesPerSecond = rate
	}
	t.mu.Unlock()
}

// Close removes the upload's progress record. Idempotent.
func (u *Upload) Close() {
	t := u.tracker
	t.mu.Lock()
	delete(t.records, u.key)
	t.mu.Unlock()
}

// localRecords returns copies of this instance's records for (tenant, batch),
// ordered by uploader id.
func (t *Tracker) localRecords(tenant identity.TenantID, batch identity.BatchID) []Record {
	t.mu.Lock()
	var out []Record
	for key, rec := range t.records {
		if key.Tenant == tenant.Value() && key.Batch == batch.Value() {
			out = append(out, *rec)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.UploaderID < out[j].Key.UploaderID
	})
	return out
}
