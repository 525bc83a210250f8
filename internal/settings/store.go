// Package settings holds the default routing context and keeps it in sync
// with the configuration file.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/router"
)

const reloadDebounce = 150 * time.Millisecond

// Snapshot is one immutable view of the settings.
type Snapshot struct {
	Routing  router.RoutingContext
	LoadedAt time.Time
}

// Loader reads the routing context from its source.
type Loader func() (router.RoutingContext, error)

// Store publishes the current Snapshot. Readers never block writers.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store seeded with rc.
func NewStore(rc router.RoutingContext) *Store {
	s := &Store{}
	s.Set(rc)
	return s
}

// Set replaces the current snapshot.
func (s *Store) Set(rc router.RoutingContext) {
	s.current.Store(&Snapshot{Routing: rc, LoadedAt: time.Now()})
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Routing returns the current default routing context.
func (s *Store) Routing() router.RoutingContext {
	return s.current.Load().Routing
}

// Watch reloads the store whenever the file at path changes, until ctx is
// cancelled. The parent directory is watched so editors that replace the
// file by rename are picked up. A failed reload keeps the previous
// snapshot.
func (s *Store) Watch(ctx context.Context, path string, load Loader, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: new watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("settings: resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(abs), err)
	}

	logger.Info("settings: watching", slog.String("path", abs))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("settings: stopped")
			return nil

		case <-fire:
			fire = nil
			rc, err := load()
			if err != nil {
				logger.Warn("settings: reload failed, keeping previous", slog.String("error", err.Error()))
				continue
			}
			s.Set(rc)
			logger.Info("settings: reloaded",
				slog.String("server_url", rc.ServerURL),
				slog.Bool("use_remote", rc.UseRemote))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("settings: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
