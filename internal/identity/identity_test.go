package identity

import (
	"errors"
	"strings"
	"testing"

	stageerr "github.com/docstage/docstage/internal/errors"
)

func TestNewTenantIDValid(t *testing.T) {
	valid := []string{
		"a",
		"tenant1",
		"acme-corp",
		"a.b.c",
		"with_underscore",
		"odd,but(legal)+chars!",
		"0",
		strings.Repeat("a", 128),
	}
	for _, raw := range valid {
		id, err := NewTenantID(raw)
		if err != nil {
			t.Errorf("NewTenantID(%q) failed: %v", raw, err)
			continue
		}
		if id.Value() != raw {
			t.Errorf("NewTenantID(%q).Value() = %q", raw, id.Value())
		}
	}
}

func TestNewTenantIDInvalid(t *testing.T) {
	invalid := []string{
		"",
		"UPPER",
		"has space",
		"sl/ash",
		"back\\slash",
		"trailing.",
		"..",
		".",
		"tenant\x00null",
		"ünïcode",
		strings.Repeat("a", 129),
	}
	for _, raw := range invalid {
		if _, err := NewTenantID(raw); err == nil {
			t.Errorf("NewTenantID(%q) succeeded, want error", raw)
		} else if !errors.Is(err, stageerr.ErrInvalidTenantID) {
			t.Errorf("NewTenantID(%q) error = %v, want ErrInvalidTenantID", raw, err)
		}
	}
}

func TestNewBatchIDGrammarMatchesTenant(t *testing.T) {
	// Both identifiers share the grammar; spot-check the batch side.
	if _, err := NewBatchID("batch-2026.09"); err != nil {
		t.Fatalf("NewBatchID failed: %v", err)
	}
	if _, err := NewBatchID("ends-with-dot."); err == nil {
		t.Fatal("NewBatchID accepted a trailing dot")
	}
	if _, err := NewBatchID("../escape"); !errors.Is(err, stageerr.ErrInvalidBatchID) {
		t.Fatalf("error = %v, want ErrInvalidBatchID", err)
	}
}

func TestErrorCarriesRawValue(t *testing.T) {
	_, err := NewTenantID("Bad Tenant")
	var se *stageerr.StageError
	if !errors.As(err, &se) {
		t.Fatalf("error is not a StageError: %v", err)
	}
	if se.ExtraFields["TenantId"] != "Bad Tenant" {
		t.Errorf("ExtraFields = %v, want TenantId echoed back", se.ExtraFields)
	}
}
