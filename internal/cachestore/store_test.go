package cachestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileNameStripsSchemeAndEscapesPath(t *testing.T) {
	cases := map[string]string{
		"http://example.com":        "example.com",
		"https://example.com/a?b=1": "example.com_a_b=1",
		"http://example.com/x/y":    "example.com_x_y",
	}
	for in, want := range cases {
		if got := FileName(in); got != want {
			t.Errorf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Set("http://example.com", "<html>HI</html>"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := s.Get("http://example.com")
	if !ok || got != "<html>HI</html>" {
		t.Fatalf("Get = (%q, %v), want (<html>HI</html>, true)", got, ok)
	}
}

func TestSecondSetOverwritesFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = s.Set("http://example.com", "c1")
	_ = s.Set("http://example.com", "c2")

	got, ok := s.Get("http://example.com")
	if !ok || got != "c2" {
		t.Fatalf("Get = (%q, %v), want (c2, true)", got, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestNewLoadsExistingCacheDirectory(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = s1.Set("http://example.com", "persisted")

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	got, ok := s2.Get("http://example.com")
	if !ok || got != "persisted" {
		t.Fatalf("reload Get = (%q, %v), want (persisted, true)", got, ok)
	}
}

func TestIterateVisitsEveryEntry(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	_ = s.Set("http://a.com", "A")
	_ = s.Set("http://b.com", "B")

	seen := make(map[string]string)
	s.Iterate(func(url, content string) bool {
		seen[url] = content
		return true
	})

	if len(seen) != 2 || seen["a.com"] != "A" || seen["b.com"] != "B" {
		t.Fatalf("Iterate visited %v, want a.com=A b.com=B", seen)
	}
}

func TestSetWritesThroughToDisk(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	_ = s.Set("http://example.com", "body")

	path := filepath.Join(dir, FileName("http://example.com"))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected on-disk file at %s: %v", path, err)
	}
}
