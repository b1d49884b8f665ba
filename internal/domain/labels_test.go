package domain

import "testing"

func TestJoinSplitLabels(t *testing.T) {
	stored := JoinLabels([]string{"bug", " backend ", ""})
	if stored != ",bug,backend," {
		t.Fatalf("stored = %q", stored)
	}
	got := SplitLabels(stored)
	if len(got) != 2 || got[0] != "bug" || got[1] != "backend" {
		t.Fatalf("split = %v", got)
	}
	if JoinLabels(nil) != "" {
		t.Fatalf("empty label set must store as empty string")
	}
	if SplitLabels("") != nil {
		t.Fatalf("empty stored form must split to nil")
	}
}

func TestHasLabelExactToken(t *testing.T) {
	stored := JoinLabels([]string{"backendteam", "frontend"})
	if HasLabel(stored, "backend") {
		t.Fatalf("substring of a longer label must not match")
	}
	if !HasLabel(stored, "backendteam") {
		t.Fatalf("exact token must match")
	}
	if HasLabel("", "backend") {
		t.Fatalf("no labels stored, nothing matches")
	}
}

func TestLabelPattern(t *testing.T) {
	if got := LabelPattern(" backend "); got != "%,backend,%" {
		t.Fatalf("pattern = %q", got)
	}
}
