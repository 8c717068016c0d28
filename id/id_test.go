package id

import (
	"encoding/json"
	"testing"
)

func TestNewAndParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix Prefix
	}{
		{"job", PrefixJob},
		{"message", PrefixMessage},
		{"event", PrefixEvent},
		{"dlq", PrefixDLQ},
		{"checkpoint", PrefixCheckpoint},
		{"token", PrefixToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated := New(tt.prefix)
			if generated.IsNil() {
				t.Fatal("New returned nil ID")
			}
			if generated.Prefix() != tt.prefix {
				t.Fatalf("Prefix() = %q, want %q", generated.Prefix(), tt.prefix)
			}

			parsed, err := Parse(generated.String())
			if err != nil {
				t.Fatalf("Parse(%q): %v", generated.String(), err)
			}
			if parsed != generated {
				t.Fatalf("round trip mismatch: %v != %v", parsed, generated)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	t.Parallel()

	jobID := NewJobID()

	if _, err := ParseWithPrefix(jobID.String(), PrefixJob); err != nil {
		t.Fatalf("ParseWithPrefix with matching prefix: %v", err)
	}
	if _, err := ParseWithPrefix(jobID.String(), PrefixDLQ); err == nil {
		t.Fatal("ParseWithPrefix with wrong prefix should fail")
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	if _, err := Parse(""); err == nil {
		t.Fatal("Parse of empty string should fail")
	}
}

func TestNilID(t *testing.T) {
	t.Parallel()

	if !Nil.IsNil() {
		t.Fatal("Nil.IsNil() = false")
	}
	if Nil.String() != "" {
		t.Fatalf("Nil.String() = %q, want empty", Nil.String())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := NewDLQID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: %v != %v", decoded, original)
	}
}

func TestScanAndValue(t *testing.T) {
	t.Parallel()

	original := NewJobID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned != original {
		t.Fatalf("scan round trip mismatch: %v != %v", scanned, original)
	}

	var fromNil ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !fromNil.IsNil() {
		t.Fatal("Scan(nil) should produce Nil ID")
	}
}
