// Package subbatch writes the on-disk contents of one in-progress batch
// directory: document-count-capped JSON-Lines sub-batch files plus the
// sibling files/ folder of loose attachments.
package subbatch

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/layout"
)

// subBatchSuffix is the fixed suffix of every sub-batch file name. The
// timestamp part guarantees lexical name order equals creation order within
// one batch.
const subBatchSuffix = "-json.batch"

// FilesDirName is the batch subfolder holding loose attachment files.
const FilesDirName = "files"

// Writer stages documents into rotating sub-batch files under one batch
// directory. It is not safe for concurrent use; each upload owns its own
// Writer. Close is idempotent and always safe on the error path.
type Writer struct {
	// Dir is the in-progress batch directory.
	Dir string
	// MaxDocuments is the per-file document count cap before rotation.
	MaxDocuments int

	file       *os.File
	count      int
	documents  int
	subBatches int
	lastStamp  time.Time
}

// WriteDocument stages one document: it opens or rotates the current
// sub-batch file as needed, then invokes write with the open sink. The
// callback is expected to emit exactly one JSON-Lines record (the rewriter
// does this). The document counts toward the cap only if write succeeds.
func (w *Writer) WriteDocument(write func(io.Writer) error) error {
	if w.file == nil || w.count >= w.MaxDocuments {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if err := write(w.file); err != nil {
		return err
	}
	w.count++
	w.documents++
	return nil
}

// WriteAttachment copies one loose attachment into the files/ folder and
// returns its stored name relative to the batch directory. Only the final
// path segment of the supplied name is used, so traversal-shaped attachment
// names cannot escape the folder. Re-sending the same name overwrites the
// earlier copy.
func (w *Writer) WriteAttachment(name string, r io.Reader) (string, int64, error) {
	base := baseName(name)
	if base == "" {
		return "", 0, stageerr.ErrInvalidBatch.WithMessage("attachment part has no usable file name: %q", name)
	}

	dir := filepath.Join(w.Dir, FilesDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("%w: creating files folder: %v", stageerr.ErrStagingFailure, err)
	}

	f, err := os.Create(filepath.Join(dir, base))
	if err != nil {
		return "", 0, fmt.Errorf("%w: creating attachment file %q: %v", stageerr.ErrStagingFailure, base, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("%w: closing attachment file %q: %v", stageerr.ErrStagingFailure, base, err)
	}
	return path.Join(FilesDirName, base), n, nil
}

// Close flushes and closes any open sub-batch file and resets the rotation
// count. Safe to call multiple times.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	w.count = 0
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: syncing sub-batch file: %v", stageerr.ErrStagingFailure, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing sub-batch file: %v", stageerr.ErrStagingFailure, err)
	}
	return nil
}

// Documents returns the total number of documents written across all
// sub-batch files.
func (w *Writer) Documents() int { return w.documents }

// SubBatches returns the number of sub-batch files created.
func (w *Writer) SubBatches() int { return w.subBatches }

// rotate closes the current sub-batch file and opens the next one. File
// names are timestamp-based; if two rotations land on the same millisecond
// the stamp is nudged forward so names stay unique and ordered.
func (w *Writer) rotate() error {
	if err := w.Close(); err != nil {
		return err
	}

	ts := time.Now().UTC()
	if !ts.After(w.lastStamp) {
		ts = w.lastStamp.Add(time.Millisecond)
	}
	w.lastStamp = ts

	name := layout.NameTimestamp(ts) + subBatchSuffix
	f, err := os.Create(filepath.Join(w.Dir, name))
	if err != nil {
		return fmt.Errorf("%w: creating sub-batch file %q: %v", stageerr.ErrStagingFailure, name, err)
	}
	w.file = f
	w.subBatches++
	return nil
}

// baseName extracts the final path segment of an attachment name, tolerating
// both slash styles, and rejects segments that are path navigation.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}
