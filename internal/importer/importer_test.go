package importer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/fabula/internal/storage"
	"github.com/starford/fabula/internal/storyservice"
	"github.com/starford/fabula/internal/testutil"
)

const lighthouseYAML = `
id: lighthouse
title: The Lighthouse
root: R
nodes:
  R:
    scene: A storm gathers.
    actions:
      - description: Climb the tower
        key: true
        target: tower
  tower:
    scene: The stairs groan.
`

// importerTestEnv sets up a library dir, storage, and service.
func importerTestEnv(t *testing.T) (string, *storyservice.Service, *Importer) {
	t.Helper()
	libDir := t.TempDir()
	store, err := storage.NewFS(libDir)
	if err != nil {
		t.Fatal(err)
	}
	db := testutil.TestDB(t)
	svc := storyservice.NewService(db, nil)
	return libDir, svc, New(svc, store)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSyncImportsLibrary(t *testing.T) {
	libDir, svc, im := importerTestEnv(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(libDir, "lighthouse.story.yaml"), []byte(lighthouseYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "README.md"), []byte("not a story"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := im.Sync(ctx, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	tree, err := svc.FetchTree(ctx, "lighthouse")
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	if len(tree.Nodes) != 2 || tree.RootNodeID != "R" {
		t.Fatalf("imported tree: %d nodes, root %s", len(tree.Nodes), tree.RootNodeID)
	}

	projects, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0].Title != "The Lighthouse" {
		t.Fatalf("projects = %+v", projects)
	}
}

func TestSyncSkipsUnchangedFiles(t *testing.T) {
	libDir, svc, im := importerTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(libDir, "lighthouse.story.yaml")
	if err := os.WriteFile(path, []byte(lighthouseYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := im.Sync(ctx, quietLogger()); err != nil {
		t.Fatal(err)
	}

	first, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A second sweep with no content change must not rewrite anything.
	if err := im.Sync(ctx, quietLogger()); err != nil {
		t.Fatal(err)
	}
	second, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !second[0].UpdatedAt.Equal(first[0].UpdatedAt) {
		t.Errorf("unchanged file reimported: %v -> %v", first[0].UpdatedAt, second[0].UpdatedAt)
	}
}

func TestSyncSkipsBrokenFiles(t *testing.T) {
	libDir, svc, im := importerTestEnv(t)
	ctx := context.Background()

	_ = os.WriteFile(filepath.Join(libDir, "bad.story.yaml"), []byte("root: R\nnodes: {}\n"), 0o644)
	_ = os.WriteFile(filepath.Join(libDir, "good.story.yaml"), []byte(lighthouseYAML), 0o644)

	if err := im.Sync(ctx, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	projects, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Fatalf("projects = %d, want 1 (broken file skipped)", len(projects))
	}
}

func TestProjectIDForPath(t *testing.T) {
	cases := map[string]string{
		"the-fall.story.yaml":      "the-fall",
		"tales/the-fall.story.yml": "tales-the-fall",
		"a/b/c.story.json":         "a-b-c",
		"odd.name.story.yaml":      "odd.name",
	}
	for in, want := range cases {
		if got := ProjectIDForPath(in); got != want {
			t.Errorf("ProjectIDForPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatchImportsNewFile(t *testing.T) {
	libDir, svc, im := importerTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = im.Watch(ctx, libDir, quietLogger())
	}()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(libDir, "new.story.yaml"), []byte(lighthouseYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := svc.FetchTree(context.Background(), "lighthouse")
		return err == nil
	}, "new story file not imported by watcher")

	cancel()
	wg.Wait()
}

func TestWatchImportsFilesInNewDir(t *testing.T) {
	libDir, svc, im := importerTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = im.Watch(ctx, libDir, quietLogger())
	}()

	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(libDir, "tales")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "deep.story.yaml"), []byte(lighthouseYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := svc.FetchTree(context.Background(), "lighthouse")
		return err == nil
	}, "story file in new directory not imported")

	cancel()
	wg.Wait()
}
