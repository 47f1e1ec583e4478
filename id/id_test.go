package id_test

import (
	"testing"

	"github.com/syncwell/pulse/id"
)

func TestNew_GeneratesPrefixedIDs(t *testing.T) {
	jobID := id.NewJobID()
	if jobID.Prefix() != id.PrefixJob {
		t.Errorf("prefix = %q, want %q", jobID.Prefix(), id.PrefixJob)
	}
	if jobID.IsNil() {
		t.Error("new ID should not be nil")
	}
}

func TestNew_IDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		s := id.NewTemplateID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewWorkerID()
	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %s, want %s", parsed.String(), orig.String())
	}
}

func TestParse_RejectsEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	jobID := id.NewJobID()
	if _, err := id.ParseTemplateID(jobID.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestNil_Behavior(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil should report IsNil")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
}

func TestMarshalText_RoundTrip(t *testing.T) {
	orig := id.NewDLQID()
	text, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var decoded id.ID
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Errorf("round trip = %s, want %s", decoded.String(), orig.String())
	}
}
