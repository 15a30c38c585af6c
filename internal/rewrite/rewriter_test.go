package rewrite

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	stageerr "github.com/docstage/docstage/internal/errors"
)

func newTestRewriter(t *testing.T) *Rewriter {
	t.Helper()
	return &Rewriter{
		StoragePrefix: "acme/completed/b-1",
		FilesDir:      filepath.Join(t.TempDir(), "files"),
		Threshold:     64,
		Uploaded:      make(map[string]string),
	}
}

func rewriteString(t *testing.T, rw *Rewriter, in string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := rw.Rewrite(strings.NewReader(in), &out)
	return out.String(), err
}

func TestRewritePassthroughMinifies(t *testing.T) {
	rw := newTestRewriter(t)
	in := `{
		"name": "invoice",
		"count": 3,
		"ok": true,
		"missing": null,
		"tags": ["a", "b"],
		"nested": {"x": 1.5}
	}`
	got, err := rewriteString(t, rw, in)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	want := `{"name":"invoice","count":3,"ok":true,"missing":null,"tags":["a","b"],"nested":{"x":1.5}}` + "\n"
	if got != want {
		t.Errorf("Rewrite = %q, want %q", got, want)
	}
}

func TestRewriteSmallDataPassesThrough(t *testing.T) {
	rw := newTestRewriter(t)
	got, err := rewriteString(t, rw, `{"data": "hello", "encoding": "utf8"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if got != `{"data":"hello","encoding":"utf8"}`+"\n" {
		t.Errorf("Rewrite = %q", got)
	}
}

func TestRewriteDataWithoutEncoding(t *testing.T) {
	rw := newTestRewriter(t)
	got, err := rewriteString(t, rw, `{"data": "hello"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if got != `{"data":"hello"}`+"\n" {
		t.Errorf("Rewrite = %q", got)
	}
}

func TestRewriteLocalRef(t *testing.T) {
	rw := newTestRewriter(t)
	rw.Uploaded["photo.png"] = "files/photo.png"

	got, err := rewriteString(t, rw, `{"data": "photo.png", "encoding": "local_ref"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	want := `{"data":"acme/completed/b-1/files/photo.png","encoding":"storage_ref"}` + "\n"
	if got != want {
		t.Errorf("Rewrite = %q, want %q", got, want)
	}
}

func TestRewriteLocalRefUnknownFile(t *testing.T) {
	rw := newTestRewriter(t)
	_, err := rewriteString(t, rw, `{"data": "never-sent.png", "encoding": "local_ref"}`)
	if !errors.Is(err, stageerr.ErrInvalidBatch) {
		t.Fatalf("error = %v, want ErrInvalidBatch", err)
	}
}

func TestRewriteExternalizesLargeUTF8(t *testing.T) {
	rw := newTestRewriter(t)
	big := strings.Repeat("x", rw.Threshold+1)

	got, err := rewriteString(t, rw, `{"data": "`+big+`", "encoding": "utf8"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if !strings.Contains(got, `"encoding":"storage_ref"`) {
		t.Fatalf("large value not externalized: %q", got)
	}
	if strings.Contains(got, big) {
		t.Fatal("oversized value still inline")
	}

	entries, err := os.ReadDir(rw.FilesDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("files dir entries = %v, err = %v", entries, err)
	}
	payload, err := os.ReadFile(filepath.Join(rw.FilesDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading externalized file: %v", err)
	}
	if string(payload) != big {
		t.Error("externalized payload does not match the original value")
	}
	if !strings.Contains(got, `"data":"acme/completed/b-1/files/`+entries[0].Name()+`"`) {
		t.Errorf("storage_ref does not point at the written file: %q", got)
	}
}

func TestRewriteExternalizesBase64Decoded(t *testing.T) {
	rw := newTestRewriter(t)
	raw := bytes.Repeat([]byte{0xDE, 0xAD}, rw.Threshold)
	encoded := base64.StdEncoding.EncodeToString(raw)

	_, err := rewriteString(t, rw, `{"data": "`+encoded+`", "encoding": "base64"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	entries, err := os.ReadDir(rw.FilesDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("files dir entries = %v, err = %v", entries, err)
	}
	payload, err := os.ReadFile(filepath.Join(rw.FilesDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading externalized file: %v", err)
	}
	if !bytes.Equal(payload, raw) {
		t.Error("base64 value was not stored decoded")
	}
}

func TestRewriteInvalidBase64(t *testing.T) {
	rw := newTestRewriter(t)
	big := strings.Repeat("!", rw.Threshold+1)
	_, err := rewriteString(t, rw, `{"data": "`+big+`", "encoding": "base64"}`)
	if !errors.Is(err, stageerr.ErrInvalidBatch) {
		t.Fatalf("error = %v, want ErrInvalidBatch", err)
	}
}

func TestRewriteStorageRefNeverExternalized(t *testing.T) {
	rw := newTestRewriter(t)
	big := strings.Repeat("y", rw.Threshold+1)
	got, err := rewriteString(t, rw, `{"data": "`+big+`", "encoding": "storage_ref"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if !strings.Contains(got, big) {
		t.Error("storage_ref value was rewritten; it must pass through untouched")
	}
}

func TestRewriteNestedPairsAreIndependent(t *testing.T) {
	rw := newTestRewriter(t)
	rw.Uploaded["a.bin"] = "files/a.bin"

	in := `{"data": "a.bin", "encoding": "local_ref", "child": {"data": "tiny", "encoding": "utf8"}}`
	got, err := rewriteString(t, rw, in)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if !strings.Contains(got, `"child":{"data":"tiny","encoding":"utf8"}`) {
		t.Errorf("nested pair altered: %q", got)
	}
	if !strings.Contains(got, `"data":"acme/completed/b-1/files/a.bin"`) {
		t.Errorf("outer pair not rewritten: %q", got)
	}
}

func TestRewriteArrayOfFieldObjects(t *testing.T) {
	rw := newTestRewriter(t)
	rw.Uploaded["a"] = "files/a"
	rw.Uploaded["b"] = "files/b"

	in := `{"items": [{"data": "a", "encoding": "local_ref"}, {"data": "b", "encoding": "local_ref"}]}`
	got, err := rewriteString(t, rw, in)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	want := `{"items":[{"data":"acme/completed/b-1/files/a","encoding":"storage_ref"},{"data":"acme/completed/b-1/files/b","encoding":"storage_ref"}]}` + "\n"
	if got != want {
		t.Errorf("Rewrite = %q, want %q", got, want)
	}
}

func TestRewriteRejectsNonObject(t *testing.T) {
	rw := newTestRewriter(t)
	for _, in := range []string{`[1,2,3]`, `"just a string"`, `42`} {
		if _, err := rewriteString(t, rw, in); !errors.Is(err, stageerr.ErrInvalidBatch) {
			t.Errorf("Rewrite(%q) error = %v, want ErrInvalidBatch", in, err)
		}
	}
}

func TestRewriteRejectsMalformedJSON(t *testing.T) {
	rw := newTestRewriter(t)
	for _, in := range []string{`{"a": }`, `{"a": 1`, `{]`, ``} {
		if _, err := rewriteString(t, rw, in); !errors.Is(err, stageerr.ErrInvalidBatch) {
			t.Errorf("Rewrite(%q) error = %v, want ErrInvalidBatch", in, err)
		}
	}
}

func TestRewriteRejectsTrailingData(t *testing.T) {
	rw := newTestRewriter(t)
	if _, err := rewriteString(t, rw, `{"a": 1} {"b": 2}`); !errors.Is(err, stageerr.ErrInvalidBatch) {
		t.Fatalf("error = %v, want ErrInvalidBatch", err)
	}
}

func TestRewriteNonStringDataEmittedAsStructure(t *testing.T) {
	rw := newTestRewriter(t)
	got, err := rewriteString(t, rw, `{"data": {"inner": 1}, "encoding": "utf8"}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if !strings.Contains(got, `"data":{"inner":1}`) {
		t.Errorf("object-valued data altered: %q", got)
	}
}

// fullDiskWriter fails every write the way an exhausted volume does.
type fullDiskWriter struct{}

func (fullDiskWriter) Write(p []byte) (int, error) {
	return 0, errors.New("no space left on device")
}

func TestRewriteSinkFailureIsStagingError(t *testing.T) {
	rw := newTestRewriter(t)
	err := rw.Rewrite(strings.NewReader(`{"a": 1}`), fullDiskWriter{})
	if !errors.Is(err, stageerr.ErrStagingFailure) {
		t.Fatalf("error = %v, want ErrStagingFailure", err)
	}
	// Never a client-classified error for a local I/O failure.
	if errors.Is(err, stageerr.ErrInvalidBatch) || errors.Is(err, stageerr.ErrIncompleteBatch) {
		t.Fatalf("sink failure classified as a client error: %v", err)
	}
}

// terminatorFailWriter accepts the document body but fails on the trailing
// newline write.
type terminatorFailWriter struct{ writes int }

func (w *terminatorFailWriter) Write(p []byte) (int, error) {
	w.writes++
	if len(p) == 1 && p[0] == '\n' {
		return 0, errors.New("no space left on device")
	}
	return len(p), nil
}

func TestRewriteTerminatorFailureIsStagingError(t *testing.T) {
	rw := newTestRewriter(t)
	err := rw.Rewrite(strings.NewReader(`{"a": 1}`), &terminatorFailWriter{})
	if !errors.Is(err, stageerr.ErrStagingFailure) {
		t.Fatalf("error = %v, want ErrStagingFailure", err)
	}
}

func TestRewritePreservesNumberPrecision(t *testing.T) {
	rw := newTestRewriter(t)
	got, err := rewriteString(t, rw, `{"big": 12345678901234567890, "frac": 0.30000000000000004}`)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if !strings.Contains(got, "12345678901234567890") || !strings.Contains(got, "0.30000000000000004") {
		t.Errorf("number literals altered: %q", got)
	}
}
