package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeTextKeepsLayoutWhitespace(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\n\txy "
	out := SanitizeText(in)
	if out != "abcd\n\n\txy " {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestTruncateAndPreview(t *testing.T) {
	if got := Truncate("héllo world", 5); got != "héllo" {
		t.Fatalf("truncate: %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Fatalf("truncate without limit: %q", got)
	}
	p := Preview("one\n\n two   three four", 9)
	if p != "one two t..." {
		t.Fatalf("preview: %q", p)
	}
}

func TestEvidenceSnippet(t *testing.T) {
	chunk := "The invoice lists three items. Total amount due is 420 EUR. Payment terms are net 30."
	out := EvidenceSnippet(chunk, "What is the total amount?", 200)
	if !strings.Contains(strings.ToLower(out), "total amount") {
		t.Fatalf("expected snippet about the total, got %q", out)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.pdf")
	if err := WriteFileAtomic(path, []byte("%PDF-1.4")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "%PDF-1.4" {
		t.Fatalf("unexpected contents %q", b)
	}
	if got := SafeJoin(dir, "../../etc/passwd"); got != filepath.Join(dir, "passwd") {
		t.Fatalf("safe join escaped root: %s", got)
	}
}
