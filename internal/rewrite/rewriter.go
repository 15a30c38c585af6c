// Package rewrite implements the single-pass streaming JSON transform applied
// to every uploaded document. The document is minified token-by-token into
// the sub-batch sink with no full-document buffering; the only state carried
// is the pending data/encoding pair of the object currently being walked.
//
// Inside any object, sibling "data" and "encoding" string fields are buffered
// until the object closes, then rewritten:
//
//   - encoding "local_ref": the data value names a loose file uploaded
//     earlier in the same stream. It must already appear in the
//     uploaded-files map; the pair becomes a storage_ref pointing at the
//     file's assigned stored name under the batch's storage prefix.
//   - data larger than the externalization threshold: the value is written
//     out to a generated loose file (base64-decoded when encoding is
//     "base64") and the pair becomes a storage_ref pointing at it.
//   - anything else passes through unchanged.
package rewrite

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/uid"
)

// Field encoding values understood by the rewriter.
const (
	EncodingUTF8       = "utf8"
	EncodingBase64     = "base64"
	EncodingLocalRef   = "local_ref"
	EncodingStorageRef = "storage_ref"
)

// filesDirName is the batch subfolder holding loose attachment files. Stored
// names returned by the staging layer are relative to the batch directory,
// e.g. "files/photo.png".
const filesDirName = "files"

// Rewriter transforms one JSON document at a time. It is not safe for
// concurrent use; each upload owns its own Rewriter.
type Rewriter struct {
	// StoragePrefix is the storage-relative path prefix the batch will have
	// once completed. Rewritten storage_ref values are StoragePrefix plus
	// the stored name.
	StoragePrefix string
	// FilesDir is the in-progress loose-files folder where externalized
	// values are written.
	FilesDir string
	// Threshold is the field-value size in bytes above which inline data is
	// externalized. Zero or negative disables externalization.
	Threshold int
	// Uploaded maps loose-file names uploaded earlier in the stream to their
	// assigned stored names.
	Uploaded map[string]string
}

// Rewrite reads a single JSON document object from r, writes its minified,
// rewritten form to w, and appends a trailing newline so the sub-batch file
// stays JSON-Lines formatted.
//
// Malformed JSON and unresolved local_ref values are reported as invalid
// batch errors; failures writing to w or to externalized files are reported
// as staging errors; errors from r itself propagate unwrapped so the caller
// can classify the transport failure.
func (rw *Rewriter) Rewrite(r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tw := &tokenWriter{w: w}

	tok, err := dec.Token()
	if err != nil {
		return classifyDecodeError(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return stageerr.ErrInvalidBatch.WithMessage("document is not a JSON object")
	}
	if err := rw.rewriteObject(dec, tw); err != nil {
		return err
	}
	// Anything after the closing brace is trailing garbage.
	if _, err := dec.Token(); err != io.EOF {
		return stageerr.ErrInvalidBatch.WithMessage("trailing data after document object")
	}
	if tw.err != nil {
		return fmt.Errorf("%w: writing rewritten document: %v", stageerr.ErrStagingFailure, tw.err)
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("%w: writing document terminator: %v", stageerr.ErrStagingFailure, err)
	}
	return nil
}

// rewriteObject walks one object whose opening brace has been consumed,
// emitting it (and everything nested) to tw. The pending data/encoding pair
// is scoped to this object frame; nested objects get their own frames via
// recursion.
func (rw *Rewriter) rewriteObject(dec *json.Decoder, tw *tokenWriter) error {
	tw.beginObject()

	var (
		data         *string
		encoding     *string
		dataSeen     bool
		encodingSeen bool
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			return classifyDecodeError(err)
		}
		if d, ok := tok.(json.Delim); ok && d == '}' {
			if err := rw.flushPair(tw, data, dataSeen, encoding, encodingSeen); err != nil {
				return err
			}
			tw.endObject()
			return nil
		}

		key, ok := tok.(string)
		if !ok {
			return stageerr.ErrInvalidBatch.WithMessage("unexpected token %v where object key expected", tok)
		}

		if key == "data" || key == "encoding" {
			val, err := dec.Token()
			if err != nil {
				return classifyDecodeError(err)
			}
			if s, isStr := val.(string); isStr {
				// Buffer; the pair is decided when the object closes.
				if key == "data" {
					data, dataSeen = &s, true
				} else {
					encoding, encodingSeen = &s, true
				}
				continue
			}
			// Non-string data/encoding values are structure, not field
			// payloads. Emit as-is.
			tw.name(key)
			if err := rw.emitToken(dec, tw, val); err != nil {
				return err
			}
			continue
		}

		tw.name(key)
		if err := rw.rewriteValue(dec, tw); err != nil {
			return err
		}
	}
}

// rewriteValue emits the next complete value from dec.
func (rw *Rewriter) rewriteValue(dec *json.Decoder, tw *tokenWriter) error {
	tok, err := dec.Token()
	if err != nil {
		return classifyDecodeError(err)
	}
	return rw.emitToken(dec, tw, tok)
}

// emitToken emits tok; when tok opens a container, the rest of the container
// is consumed from dec.
func (rw *Rewriter) emitToken(dec *json.Decoder, tw *tokenWriter, tok json.Token) error {
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return rw.rewriteObject(dec, tw)
		case '[':
			tw.beginArray()
			for dec.More() {
				if err := rw.rewriteValue(dec, tw); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return classifyDecodeError(err)
			}
			tw.endArray()
			return nil
		default:
			return stageerr.ErrInvalidBatch.WithMessage("unexpected delimiter %q", v.String())
		}
	case string:
		tw.str(v)
	case json.Number:
		tw.raw(v.String())
	case bool:
		if v {
			tw.raw("true")
		} else {
			tw.raw("false")
		}
	case nil:
		tw.raw("null")
	default:
		return stageerr.ErrInvalidBatch.WithMessage("unexpected token %v", tok)
	}
	return nil
}

// flushPair decides and emits the buffered data/encoding pair of a closing
// object frame.
func (rw *Rewriter) flushPair(tw *tokenWriter, data *string, dataSeen bool, encoding *string, encodingSeen bool) error {
	if !dataSeen {
		if encodingSeen {
			tw.name("encoding")
			tw.str(*encoding)
		}
		return nil
	}

	enc := ""
	if encodingSeen {
		enc = *encoding
	}

	switch {
	case enc == EncodingLocalRef:
		stored, ok := rw.Uploaded[*data]
		if !ok {
			return stageerr.ErrInvalidBatch.WithMessage(
				"document references file %q which was not uploaded earlier in the stream", *data)
		}
		tw.name("data")
		tw.str(path.Join(rw.StoragePrefix, stored))
		tw.name("encoding")
		tw.str(EncodingStorageRef)

	case enc != EncodingStorageRef && rw.Threshold > 0 && len(*data) > rw.Threshold:
		name, err := rw.externalize(*data, enc)
		if err != nil {
			return err
		}
		tw.name("data")
		tw.str(path.Join(rw.StoragePrefix, filesDirName, name))
		tw.name("encoding")
		tw.str(EncodingStorageRef)

	default:
		tw.name("data")
		tw.str(*data)
		if encodingSeen {
			tw.name("encoding")
			tw.str(enc)
		}
	}
	return nil
}

// externalize writes an oversized field value out to a newly generated loose
// file in the in-progress files folder and returns the generated file name.
// base64-encoded values are stored decoded; everything else is stored as
// plain UTF-8 text.
func (rw *Rewriter) externalize(value, encoding string) (string, error) {
	payload := []byte(value)
	if encoding == EncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", stageerr.ErrInvalidBatch.WithMessage("field value is not valid base64: %v", err)
		}
		payload = decoded
	}

	if err := os.MkdirAll(rw.FilesDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating files folder: %v", stageerr.ErrStagingFailure, err)
	}
	name := uid.New()
	if err := os.WriteFile(filepath.Join(rw.FilesDir, name), payload, 0o644); err != nil {
		return "", fmt.Errorf("%w: externalizing field value: %v", stageerr.ErrStagingFailure, err)
	}
	return name, nil
}

// classifyDecodeError maps decoder failures to the error taxonomy: JSON
// syntax problems are the client's fault, everything else is a reader
// failure that the caller classifies.
func classifyDecodeError(err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return stageerr.ErrInvalidBatch.WithMessage("malformed document JSON: %v", syn)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return stageerr.ErrInvalidBatch.WithMessage("document JSON ended unexpectedly")
	}
	return err
}

// tokenWriter emits minified JSON. Write errors are sticky in err; callers
// check it once after the document is emitted.
type tokenWriter struct {
	w   io.Writer
	err error
	// comma tracks, per open container, whether the next element needs a
	// leading comma.
	comma []bool
	// afterName is true immediately after an object key, i.e. the next
	// emission is that key's value and needs no comma.
	afterName bool
}

func (tw *tokenWriter) write(s string) {
	if tw.err != nil {
		return
	}
	_, tw.err = io.WriteString(tw.w, s)
}

func (tw *tokenWriter) sep() {
	if tw.afterName {
		tw.afterName = false
		return
	}
	if n := len(tw.comma); n > 0 {
		if tw.comma[n-1] {
			tw.write(",")
		}
		tw.comma[n-1] = true
	}
}

func (tw *tokenWriter) beginObject() {
	tw.sep()
	tw.write("{")
	tw.comma = append(tw.comma, false)
}

func (tw *tokenWriter) endObject() {
	tw.comma = tw.comma[:len(tw.comma)-1]
	tw.write("}")
}

func (tw *tokenWriter) beginArray() {
	tw.sep()
	tw.write("[")
	tw.comma = append(tw.comma, false)
}

func (tw *tokenWriter) endArray() {
	tw.comma = tw.comma[:len(tw.comma)-1]
	tw.write("]")
}

func (tw *tokenWriter) name(key string) {
	tw.sep()
	tw.writeString(key)
	tw.write(":")
	tw.afterName = true
}

func (tw *tokenWriter) str(s string) {
	tw.sep()
	tw.writeString(s)
}

func (tw *tokenWriter) raw(s string) {
	tw.sep()
	tw.write(s)
}

func (tw *tokenWriter) writeString(s string) {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal of a string cannot fail; keep the sticky-error shape anyway.
		tw.err = err
		return
	}
	tw.write(string(b))
}
