// Package identity defines the validated tenant and batch identifier value
// objects. Identifiers are the only user-supplied strings that ever reach the
// filesystem layout, so the grammar is deliberately strict: lowercase
// alphanumerics plus a small punctuation set, 1-128 characters, and no
// trailing dot (which guards against trailing-dot path tricks on some
// filesystems).
package identity

import (
	"regexp"

	stageerr "github.com/docstage/docstage/internal/errors"
)

// idPattern is the identifier grammar. The final character class excludes '.'
// so an identifier can never end with a dot.
var idPattern = regexp.MustCompile(`^[a-z0-9,.()\-+_!]{0,127}[a-z0-9,()\-+_!]$`)

// TenantID is a validated tenant identifier.
type TenantID struct {
	value string
}

// BatchID is a validated batch identifier.
type BatchID struct {
	value string
}

// NewTenantID validates raw against the identifier grammar and returns a
// TenantID value object.
func NewTenantID(raw string) (TenantID, error) {
	if !idPattern.MatchString(raw) {
		return TenantID{}, stageerr.ErrInvalidTenantID.WithExtra("TenantId", raw)
	}
	return TenantID{value: raw}, nil
}

// NewBatchID validates raw against the identifier grammar and returns a
// BatchID value object.
func NewBatchID(raw string) (BatchID, error) {
	if !idPattern.MatchString(raw) {
		return BatchID{}, stageerr.ErrInvalidBatchID.WithExtra("BatchId", raw)
	}
	return BatchID{value: raw}, nil
}

// Value returns the exact string the identifier was constructed from.
func (t TenantID) Value() string { return t.value }

// Value returns the exact string the identifier was constructed from.
func (b BatchID) Value() string { return b.value }

func (t TenantID) String() string { return t.value }

func (b BatchID) String() string { return b.value }
