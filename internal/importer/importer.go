// Package importer keeps the project database in step with story files
// in the library directory: an initial sweep on startup, then an
// fsnotify watch for live edits. Unchanged files are skipped by
// checksum. Removing a file never deletes its project; pruning a
// project is always an explicit API decision.
package importer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/fabula/internal/parser"
	"github.com/starford/fabula/internal/storage"
	"github.com/starford/fabula/internal/storyservice"
)

// Importer imports story files into the project database.
type Importer struct {
	svc   *storyservice.Service
	store storage.Provider

	mu   sync.Mutex
	seen map[string]string // path -> checksum of last successful import
}

// New creates an importer reading from store and writing through svc.
func New(svc *storyservice.Service, store storage.Provider) *Importer {
	return &Importer{svc: svc, store: store, seen: map[string]string{}}
}

// Sync walks the library and imports every new or changed story file.
func (im *Importer) Sync(ctx context.Context, logger *slog.Logger) error {
	infos, err := im.store.List("")
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if im.alreadyImported(info.Path, info.Checksum) {
			continue
		}
		if err := im.importFile(ctx, info.Path); err != nil {
			logger.Warn("sync: import failed", slog.String("path", info.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: imported", slog.String("path", info.Path))
	}
	return nil
}

func (im *Importer) alreadyImported(path, checksum string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.seen[path] == checksum
}

// importFile reads, parses, and upserts one story file.
func (im *Importer) importFile(ctx context.Context, rel string) error {
	data, err := im.store.Read(rel)
	if err != nil {
		return err
	}
	cs := storage.Checksum(data)
	if im.alreadyImported(rel, cs) {
		return nil
	}

	p, err := parser.Parse(data)
	if err != nil {
		return err
	}
	id := p.ID
	if id == "" {
		id = ProjectIDForPath(rel)
	}
	title := p.Title
	if title == "" {
		title = id
	}
	if err := im.svc.ImportProject(ctx, id, title, p.Tree); err != nil {
		return err
	}

	im.mu.Lock()
	im.seen[rel] = cs
	im.mu.Unlock()
	return nil
}

// ProjectIDForPath derives a stable project id from a library-relative
// file path: "tales/the-fall.story.yaml" becomes "tales-the-fall".
func ProjectIDForPath(rel string) string {
	s := rel
	for _, suffix := range []string{".story.yaml", ".story.yml", ".story.json"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	s = filepath.ToSlash(s)
	return strings.ReplaceAll(s, "/", "-")
}

// Watch starts an fsnotify watcher on the library root and imports
// changed story files until ctx is cancelled. New directories created
// at runtime are added to the watch list. Rename events schedule a
// short debounced resweep, since fsnotify fires on the old path only.
func (im *Importer) Watch(ctx context.Context, root string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var resweepTimer *time.Timer
	var resweepCh <-chan time.Time

	scheduleResweep := func() {
		if resweepTimer == nil {
			resweepTimer = time.NewTimer(200 * time.Millisecond)
			resweepCh = resweepTimer.C
		} else {
			resweepTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if resweepTimer != nil {
				resweepTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-resweepCh:
			if err := im.Sync(ctx, logger); err != nil {
				logger.Warn("watcher: resweep failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories join the watch list and get swept for
			// story files that arrived with them.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					scheduleResweep()
					continue
				}
			}

			if !storage.IsStoryFile(absPath) {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if err := im.importFile(ctx, rel); err != nil {
					logger.Warn("watcher: import failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				logger.Debug("watcher: imported", slog.String("path", rel))

			case ev.Op&fsnotify.Remove != 0:
				// The project outlives its source file.
				im.forget(rel)
				logger.Debug("watcher: source removed", slog.String("path", rel))

			case ev.Op&fsnotify.Rename != 0:
				im.forget(rel)
				scheduleResweep()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (im *Importer) forget(rel string) {
	im.mu.Lock()
	delete(im.seen, rel)
	im.mu.Unlock()
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
