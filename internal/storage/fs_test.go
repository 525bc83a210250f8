package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/ansuz/internal/checksum"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func put(t *testing.T, s *FS, rel, content string) {
	t.Helper()
	abs := filepath.Join(s.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRead(t *testing.T) {
	s := tempVault(t)
	put(t, s, "a/b/c.md", "deep")
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	put(t, s, "a.md", "a")
	put(t, s, "sub/b.md", "b")
	put(t, s, "readme.txt", "not md")
	put(t, s, ".trash/old.md", "gone")

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Path == "sub/b.md" && it.Checksum != checksum.Sum([]byte("b")) {
			t.Errorf("checksum = %q", it.Checksum)
		}
	}

	items, err = s.List("sub")
	if err != nil {
		t.Fatalf("List(sub): %v", err)
	}
	if len(items) != 1 || items[0].Path != "sub/b.md" {
		t.Errorf("List(sub) = %+v", items)
	}
}

func TestFolders(t *testing.T) {
	s := tempVault(t)
	put(t, s, "Work/Projects/x.md", "x")
	put(t, s, "Personal/y.md", "y")
	put(t, s, ".obsidian/config.md", "z")

	got, err := s.Folders()
	if err != nil {
		t.Fatalf("Folders: %v", err)
	}
	want := []string{"Personal", "Work", "Work/Projects"}
	if len(got) != len(want) {
		t.Fatalf("folders = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("folders[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if _, err := s.List(p); err == nil {
			t.Errorf("expected error for list of %q", p)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "ansuz-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
