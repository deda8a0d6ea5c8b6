package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCanonicalizePath(t *testing.T) {
	result := CanonicalizePath(".")
	if !filepath.IsAbs(result) {
		t.Errorf("expected absolute path, got %q", result)
	}

	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	if got := CanonicalizePath(missing); got != missing {
		t.Errorf("CanonicalizePath(%q) = %q, want unchanged absolute path", missing, got)
	}
}

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join("agent_docs", "agency", "STATE.json")
	if err := os.MkdirAll(filepath.Join(root, "agent_docs", "agency"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, marker), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	deep := filepath.Join(root, "src", "pkg", "inner")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}

	got := FindUp(deep, marker)
	if got != CanonicalizePath(root) {
		t.Errorf("FindUp = %q, want %q", got, CanonicalizePath(root))
	}

	if got := FindUp(t.TempDir(), marker); got != "" {
		t.Errorf("expected no match outside project, got %q", got)
	}
}

func TestIsNonEmpty(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.md")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	full := filepath.Join(dir, "full.md")
	if err := os.WriteFile(full, []byte("# hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	hiddenOnly := filepath.Join(dir, "src")
	if err := os.MkdirAll(hiddenOnly, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hiddenOnly, ".keep"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		path       string
		skipHidden bool
		exists     bool
		nonEmpty   bool
	}{
		{"missing", filepath.Join(dir, "nope"), false, false, false},
		{"empty file", empty, false, true, false},
		{"file with content", full, false, true, true},
		{"dir with dotfile", hiddenOnly, false, true, true},
		{"dir with dotfile skipping hidden", hiddenOnly, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exists, nonEmpty := IsNonEmpty(tt.path, tt.skipHidden)
			if exists != tt.exists || nonEmpty != tt.nonEmpty {
				t.Errorf("IsNonEmpty = (%v, %v), want (%v, %v)", exists, nonEmpty, tt.exists, tt.nonEmpty)
			}
		})
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "STATE.json")

	if err := WriteJSONAtomic(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSONAtomic failed: %v", err)
	}
	if err := WriteJSONAtomic(path, map[string]int{"a": 2}); err != nil {
		t.Fatalf("second WriteJSONAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"a\": 2") {
		t.Errorf("expected two-space indent, got %q", data)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("written file is not valid JSON: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp_") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
