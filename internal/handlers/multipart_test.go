package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/staging"
)

func buildMultipartRequest(t *testing.T, build func(*multipart.Writer)) *multipartStream {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	build(mw)
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest("PUT", "/v1/batches/acme/b-1", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	stream, err := newMultipartStream(req)
	if err != nil {
		t.Fatalf("newMultipartStream failed: %v", err)
	}
	return stream
}

func addPart(t *testing.T, mw *multipart.Writer, filename, contentType, body string) {
	t.Helper()
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="part"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		t.Fatalf("writing part body: %v", err)
	}
}

func TestMultipartStreamYieldsPartsInOrder(t *testing.T) {
	stream := buildMultipartRequest(t, func(mw *multipart.Writer) {
		addPart(t, mw, "photo.png", "image/png", "pixels")
		addPart(t, mw, "doc1", staging.DocumentContentType, `{"a":1}`)
	})

	p1, err := stream.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if p1.Name != "photo.png" || p1.ContentType != "image/png" {
		t.Errorf("part 1 = %q/%q", p1.Name, p1.ContentType)
	}
	if body, _ := io.ReadAll(p1.Body); string(body) != "pixels" {
		t.Errorf("part 1 body = %q", body)
	}

	p2, err := stream.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if p2.Name != "doc1" || p2.ContentType != staging.DocumentContentType {
		t.Errorf("part 2 = %q/%q", p2.Name, p2.ContentType)
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("final Next error = %v, want io.EOF", err)
	}
}

func TestMultipartStreamFormNameFallback(t *testing.T) {
	stream := buildMultipartRequest(t, func(mw *multipart.Writer) {
		// A field part with no filename keeps its form name.
		if err := mw.WriteField("metadata", "v"); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	})
	p, err := stream.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if p.Name != "metadata" {
		t.Errorf("Name = %q, want the form field name", p.Name)
	}
}

func TestNewMultipartStreamRejectsContentType(t *testing.T) {
	cases := []string{
		"",
		"application/json",
		"multipart/form-data", // no boundary
	}
	for _, ct := range cases {
		req := httptest.NewRequest("PUT", "/v1/batches/acme/b-1", strings.NewReader("x"))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		_, err := newMultipartStream(req)
		if !errors.Is(err, stageerr.ErrInvalidArgument) {
			t.Errorf("Content-Type %q: error = %v, want ErrInvalidArgument", ct, err)
		}
	}
}

func TestCountingReaderMilestones(t *testing.T) {
	var reports []int64
	c := &countingReader{
		r:      bytes.NewReader(make([]byte, 3*reportGranularity+10)),
		report: func(total int64) { reports = append(reports, total) },
	}
	buf := make([]byte, 64*1024)
	for {
		if _, err := c.Read(buf); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}

	// One report per megabyte boundary crossed, not per read.
	if len(reports) != 3 {
		t.Fatalf("reports = %v, want exactly 3", reports)
	}
	for i, total := range reports {
		wantAtLeast := int64(i+1) * reportGranularity
		if total < wantAtLeast {
			t.Errorf("report %d = %d, want >= %d", i, total, wantAtLeast)
		}
	}
}

func TestCountingReaderNoReporterIsSafe(t *testing.T) {
	c := &countingReader{r: strings.NewReader("data")}
	if _, err := io.ReadAll(c); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if c.total != 4 {
		t.Errorf("total = %d, want 4", c.total)
	}
}
