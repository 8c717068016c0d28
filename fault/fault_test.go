package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           *Error
		wantClass     Class
		wantStatus    int
		wantRetryable bool
	}{
		{"validation", Validation("X", "bad input"), ClassValidation, 400, false},
		{"business rule", BusinessRule("X", "conflict"), ClassBusinessRule, 409, false},
		{"transient", Transient("X", "hiccup"), ClassTransient, 503, true},
		{"permanent", Permanent("X", "broken"), ClassPermanent, 422, false},
		{"security", Security("X", "denied"), ClassSecurity, 403, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", tt.err.Class, tt.wantClass)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	t.Parallel()

	base := BusinessRule(CodeStateTransitionInvalid, "bad edge")
	wrapped := fmt.Errorf("running job: %w", base)

	if got := CodeOf(wrapped); got != CodeStateTransitionInvalid {
		t.Fatalf("CodeOf = %q, want %q", got, CodeStateTransitionInvalid)
	}
	if !IsCode(wrapped, CodeStateTransitionInvalid) {
		t.Fatal("IsCode should match through wrapping")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("CodeOf of plain error should be empty")
	}
}

func TestWithCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("socket closed")
	fe := Transient("UPSTREAM_TIMEOUT", "upstream call timed out").WithCause(cause)

	if !errors.Is(fe, cause) {
		t.Fatal("errors.Is should see the cause")
	}
}

func TestTableLookup(t *testing.T) {
	t.Parallel()

	table := DefaultTable()

	tests := []struct {
		code          string
		wantClass     Class
		wantRetryable bool
	}{
		{"UPSTREAM_TIMEOUT", ClassTransient, true},
		{"DOCUMENT_CORRUPT", ClassPermanent, false},
		{"QUOTA_EXCEEDED", ClassPermanent, false},
		// Unknown codes default to transient/retryable.
		{"NEVER_SEEN_BEFORE", ClassTransient, true},
		{"", ClassTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := table.Lookup(tt.code)
			if c.Class != tt.wantClass {
				t.Errorf("Lookup(%q).Class = %q, want %q", tt.code, c.Class, tt.wantClass)
			}
			if c.Retryable != tt.wantRetryable {
				t.Errorf("Lookup(%q).Retryable = %v, want %v", tt.code, c.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestTableSet(t *testing.T) {
	t.Parallel()

	table := NewTable(nil)
	table.Set("LLM_OVERLOADED", Classification{Class: ClassTransient, Retryable: true})

	if !table.Retryable("LLM_OVERLOADED") {
		t.Fatal("expected registered code to be retryable")
	}
}
