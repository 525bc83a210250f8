package inbox

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const settleDelay = 250 * time.Millisecond

// Watch scans the inbox once and then processes new or changed notes
// until ctx is cancelled. Bursts of writes to the same file are collapsed
// into a single run once the file has been quiet for a short delay.
//
// New directories created at runtime are automatically added to the watch
// list.
func Watch(ctx context.Context, p *Processor, vaultRoot string, logger *slog.Logger) error {
	root, err := filepath.Abs(vaultRoot)
	if err != nil {
		return fmt.Errorf("inbox: resolve vault: %w", err)
	}
	inboxDir := filepath.Join(root, filepath.FromSlash(p.Folder()))
	if info, err := os.Stat(inboxDir); err != nil || !info.IsDir() {
		return fmt.Errorf("inbox: folder %s is not a directory", inboxDir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, inboxDir); err != nil {
		return err
	}

	logger.Info("inbox: watching", slog.String("folder", inboxDir))
	p.Scan(ctx)

	pending := map[string]struct{}{}
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(settleDelay)
		} else {
			timer.Reset(settleDelay)
		}
		fire = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for rel := range pending {
				batch = append(batch, rel)
			}
			clear(pending)
			sort.Strings(batch)
			for _, rel := range batch {
				p.Handle(ctx, rel)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("inbox: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					for _, rel := range notesUnder(root, ev.Name) {
						schedule(rel)
					}
					continue
				}
			}

			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(rel)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, rel)
				p.Forget(rel)
				logger.Debug("inbox: note left inbox", slog.String("path", rel))
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// notesUnder lists the .md files below dir, relative to root.
func notesUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
