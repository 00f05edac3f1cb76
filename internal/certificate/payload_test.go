package certificate

import (
	"testing"
)

func TestPayloadPathRoundTrip(t *testing.T) {
	p := Payload{}
	p.SetPath("overview.jobReference", "JOB-42")
	p.SetPath("installation.address", "1 High Street")

	if got := p.GetPath("overview.jobReference"); got != "JOB-42" {
		t.Errorf("Expected JOB-42, got %v", got)
	}
	if got := p.GetPath("installation.address"); got != "1 High Street" {
		t.Errorf("Expected address, got %v", got)
	}
	if got := p.GetPath("overview.missing"); got != nil {
		t.Errorf("Expected nil for missing path, got %v", got)
	}
	if got := p.GetPath("overview.jobReference.deeper"); got != nil {
		t.Errorf("Expected nil when path descends through a leaf, got %v", got)
	}
}

func TestPayloadSetPathOverwritesIntermediateLeaf(t *testing.T) {
	p := Payload{}
	p.SetPath("a.b", "leaf")
	p.SetPath("a.b.c", "deeper")

	if got := p.GetPath("a.b.c"); got != "deeper" {
		t.Errorf("Expected deeper, got %v", got)
	}
}

func TestPayloadHasValue(t *testing.T) {
	p := Payload{}
	p.SetPath("filled", "x")
	p.SetPath("empty", "")
	p.SetPath("section", map[string]any{})

	if !p.HasValue("filled") {
		t.Error("Expected filled to count as present")
	}
	if p.HasValue("empty") {
		t.Error("Expected empty string to count as absent")
	}
	if p.HasValue("section") {
		t.Error("Expected empty map to count as absent")
	}
	if p.HasValue("nothing") {
		t.Error("Expected missing path to count as absent")
	}
}

func TestPayloadClone(t *testing.T) {
	p := Payload{}
	p.SetPath("a.b", "original")

	clone := p.Clone()
	clone.SetPath("a.b", "mutated")

	if got := p.GetPath("a.b"); got != "original" {
		t.Errorf("Expected clone mutation to leave source untouched, got %v", got)
	}
}

func TestDiffPaths(t *testing.T) {
	old := Payload{}
	old.SetPath("overview.description", "before")
	old.SetPath("installation.address", "same")

	updated := old.Clone()
	updated.SetPath("overview.description", "after")
	updated.SetPath("declarations.extentOfWork", "new section")

	diffs := DiffPaths(old, updated)
	want := map[string]bool{
		"overview.description":      true,
		"declarations.extentOfWork": true,
	}
	if len(diffs) != len(want) {
		t.Fatalf("Expected %d diffs, got %d: %v", len(want), len(diffs), diffs)
	}
	for _, path := range diffs {
		if !want[path] {
			t.Errorf("Unexpected diff path %s", path)
		}
	}
}

func TestDiffPathsIdentical(t *testing.T) {
	p := Payload{}
	p.SetPath("a.b", float64(1))

	if diffs := DiffPaths(p, p.Clone()); len(diffs) != 0 {
		t.Errorf("Expected no diffs for identical payloads, got %v", diffs)
	}
}
