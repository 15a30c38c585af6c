package staging

import "io"

// DocumentContentType marks an upload part as a JSON document. Parts with
// any other content type are loose attachments identified by the final path
// segment of their name.
const DocumentContentType = "application/document+json"

// Part is one element of an upload stream: a named byte stream with a
// declared content type. Body is only valid until the next call to the
// stream's Next.
type Part struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// PartStream yields the parts of one upload in stream order. Next returns
// io.EOF after the final part; any other error means the upload stream
// itself failed mid-read.
type PartStream interface {
	Next() (*Part, error)
}

// ProgressAware is implemented by part streams that can report cumulative
// bytes read from the wire. The stager installs a reporter before consuming
// the stream so the transport can feed the progress tracker.
type ProgressAware interface {
	SetReporter(report func(totalBytes int64))
}

// SlicePartStream is a PartStream over an in-memory part list, used by tests
// and the SDK-facing helpers.
type SlicePartStream struct {
	Parts []Part
	next  int
}

// Next implements PartStream.
func (s *SlicePartStream) Next() (*Part, error) {
	if s.next >= len(s.Parts) {
		return nil, io.EOF
	}
	p := &s.Parts[s.next]
	s.next++
	return p, nil
}
