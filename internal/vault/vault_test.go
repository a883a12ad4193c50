// Package vault provides unit tests for document reading and frontmatter
// parsing.
package vault

import (
	"os"
	"path/filepath"
	"testing"
)

// TestParseFrontmatter tests frontmatter extraction from a document.
func TestParseFrontmatter(t *testing.T) {
	data := []byte("---\ntitle: Test Note\ntags:\n  - alpha\n  - beta\n---\nBody text here.\n")

	fm, body, err := ParseFrontmatter(data)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}

	if fm["title"] != "Test Note" {
		t.Errorf("title = %v, want 'Test Note'", fm["title"])
	}

	tags, ok := fm["tags"].([]interface{})
	if !ok || len(tags) != 2 {
		t.Errorf("tags = %v, want two entries", fm["tags"])
	}

	if string(body) != "Body text here.\n" {
		t.Errorf("body = %q, want 'Body text here.\\n'", string(body))
	}
}

// TestParseFrontmatterAbsent tests that plain documents pass through.
func TestParseFrontmatterAbsent(t *testing.T) {
	data := []byte("Just a note.\n")

	fm, body, err := ParseFrontmatter(data)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm != nil {
		t.Errorf("Expected nil frontmatter, got: %v", fm)
	}
	if string(body) != string(data) {
		t.Errorf("body = %q, want unchanged content", string(body))
	}
}

// TestParseFrontmatterUnterminated tests that an unterminated block is
// treated as plain content.
func TestParseFrontmatterUnterminated(t *testing.T) {
	data := []byte("---\ntitle: broken\nno closing delimiter\n")

	fm, body, err := ParseFrontmatter(data)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm != nil {
		t.Errorf("Expected nil frontmatter, got: %v", fm)
	}
	if string(body) != string(data) {
		t.Error("Expected unchanged content for unterminated block")
	}
}

// TestCalculateHash tests hash stability and sensitivity.
func TestCalculateHash(t *testing.T) {
	a := CalculateHash([]byte("content"))
	b := CalculateHash([]byte("content"))
	c := CalculateHash([]byte("different"))

	if a != b {
		t.Error("Expected identical hashes for identical content")
	}
	if a == c {
		t.Error("Expected different hashes for different content")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

// TestVaultReadAndList tests reading a document from a vault directory.
func TestVaultReadAndList(t *testing.T) {
	dir := t.TempDir()

	notes := filepath.Join(dir, "notes")
	if err := os.MkdirAll(notes, 0755); err != nil {
		t.Fatal(err)
	}
	content := "---\ntitle: A\n---\nhello\n"
	if err := os.WriteFile(filepath.Join(notes, "a.md"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// Hidden directories are skipped.
	hidden := filepath.Join(dir, ".obsidian")
	if err := os.MkdirAll(hidden, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hidden, "cache.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	v := New(dir)

	paths, err := v.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "notes/a.md" {
		t.Errorf("List = %v, want [notes/a.md]", paths)
	}

	doc, err := v.Read("notes/a.md")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc.Path != "notes/a.md" {
		t.Errorf("Path = %s, want notes/a.md", doc.Path)
	}
	if doc.Frontmatter["title"] != "A" {
		t.Errorf("frontmatter title = %v, want A", doc.Frontmatter["title"])
	}
	if doc.Content != "hello\n" {
		t.Errorf("Content = %q, want body without frontmatter", doc.Content)
	}
	if doc.ContentHash != CalculateHash([]byte(content)) {
		t.Error("ContentHash should cover the raw file bytes")
	}
	if doc.ModifiedAt == 0 {
		t.Error("Expected non-zero ModifiedAt")
	}
}
