package idgen

import (
	"strings"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		if !Valid(id) {
			t.Fatalf("expected %s to be a valid uuid", id)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("vev_")
	if !strings.HasPrefix(id, "vev_") {
		t.Fatalf("expected vev_ prefix, got %s", id)
	}
	if len(id) != len("vev_")+32 {
		t.Fatalf("expected 32 hex chars after prefix, got %q", id)
	}
}

func TestValid_Rejects(t *testing.T) {
	if Valid("not-a-uuid") {
		t.Fatal("expected invalid")
	}
}
