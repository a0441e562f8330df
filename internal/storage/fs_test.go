package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempLibrary(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempLibrary(t)
	content := []byte("title: Hello\nroot: R\n")
	if err := s.Write("hello.story.yaml", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("hello.story.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempLibrary(t)
	if err := s.Write("a/b/c.story.yaml", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.story.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempLibrary(t)
	_ = s.Write("del.story.yaml", []byte("bye"))
	if err := s.Delete("del.story.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.story.yaml"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestListFiltersStoryFiles(t *testing.T) {
	s := tempLibrary(t)
	_ = s.Write("one.story.yaml", []byte("a"))
	_ = s.Write("two.story.json", []byte("b"))
	_ = s.Write("sub/three.story.yml", []byte("c"))
	_ = s.Write("notes.txt", []byte("not a story"))

	infos, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("listed %d files, want 3", len(infos))
	}
	for _, info := range infos {
		if info.Checksum == "" {
			t.Errorf("%s missing checksum", info.Path)
		}
	}
}

func TestChecksumTracksContent(t *testing.T) {
	s := tempLibrary(t)
	_ = s.Write("x.story.yaml", []byte("v1"))
	before, _ := s.List("")
	_ = s.Write("x.story.yaml", []byte("v2"))
	after, _ := s.List("")
	if len(before) != 1 || len(after) != 1 {
		t.Fatalf("list lengths = %d, %d", len(before), len(after))
	}
	if before[0].Checksum == after[0].Checksum {
		t.Error("checksum unchanged after rewrite")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := tempLibrary(t)
	if _, err := s.Read("../outside.story.yaml"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if err := s.Write("/abs.story.yaml", []byte("x")); err == nil {
		t.Error("expected absolute path to be rejected")
	}
	if _, err := s.Read(filepath.Join("..", "..", "etc", "passwd")); err == nil {
		t.Error("expected deep traversal to be rejected")
	}
}

func TestNewFSRequiresExistingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := NewFS(missing); err == nil {
		t.Error("expected error for missing root")
	}
	if err := os.MkdirAll(missing, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(missing); err != nil {
		t.Errorf("NewFS on created dir: %v", err)
	}
}
