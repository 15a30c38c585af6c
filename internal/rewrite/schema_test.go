package rewrite

import (
	"errors"
	"testing"

	stageerr "github.com/docstage/docstage/internal/errors"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
	return v
}

func TestValidateAccepts(t *testing.T) {
	v := newTestValidator(t)
	docs := []string{
		`{}`,
		`{"name": "invoice", "count": 3}`,
		`{"data": "hello", "encoding": "utf8"}`,
		`{"data": "hello"}`,
		`{"nested": {"data": "x", "encoding": "base64"}, "list": [1, "two", null]}`,
		`{"items": [{"data": "a", "encoding": "local_ref"}]}`,
	}
	for _, doc := range docs {
		if err := v.Validate([]byte(doc)); err != nil {
			t.Errorf("Validate(%s) failed: %v", doc, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	v := newTestValidator(t)
	docs := []string{
		`{"data": 42}`,                       // data must be a string
		`{"encoding": "utf8"}`,               // encoding requires data
		`{"data": "x", "encoding": "gzip"}`,  // unknown encoding
		`{"nested": {"encoding": "base64"}}`, // nested violation
		`[1, 2, 3]`,                          // not an object
	}
	for _, doc := range docs {
		err := v.Validate([]byte(doc))
		if !errors.Is(err, stageerr.ErrInvalidBatch) {
			t.Errorf("Validate(%s) error = %v, want ErrInvalidBatch", doc, err)
		}
	}
}
