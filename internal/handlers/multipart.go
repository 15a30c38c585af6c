package handlers

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/staging"
)

// reportGranularity is how often cumulative wire bytes are reported to the
// progress tracker: once per megabyte boundary crossed.
const reportGranularity = 1 << 20

// multipartStream adapts an HTTP multipart request body into a
// staging.PartStream. It counts bytes at the wire level (before multipart
// framing is stripped) and reports them to the progress tracker at coarse
// milestones, implementing staging.ProgressAware.
type multipartStream struct {
	body    *countingReader
	mr      *multipart.Reader
	current *multipart.Part
}

// newMultipartStream validates the request's content type and wraps its body.
func newMultipartStream(r *http.Request) (*multipartStream, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, stageerr.ErrInvalidArgument.WithMessage("request body must be multipart/form-data")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, stageerr.ErrInvalidArgument.WithMessage("multipart boundary is missing")
	}

	body := &countingReader{r: r.Body}
	return &multipartStream{
		body: body,
		mr:   multipart.NewReader(body, boundary),
	}, nil
}

// SetReporter implements staging.ProgressAware.
func (m *multipartStream) SetReporter(report func(totalBytes int64)) {
	m.body.report = report
}

// Next implements staging.PartStream.
func (m *multipartStream) Next() (*staging.Part, error) {
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}

	part, err := m.mr.NextPart()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	m.current = part

	name := part.FileName()
	if name == "" {
		name = part.FormName()
	}
	return &staging.Part{
		Name:        name,
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	}, nil
}

// countingReader counts cumulative bytes read and calls report once per
// granularity boundary crossed.
type countingReader struct {
	r      io.Reader
	report func(totalBytes int64)
	total  int64
	// milestone is the last granularity bucket reported.
	milestone int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)
	if c.report != nil {
		if bucket := c.total / reportGranularity; bucket > c.milestone {
			c.milestone = bucket
			c.report(c.total)
		}
	}
	return n, err
}
