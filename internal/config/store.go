package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store guards the live settings. It is independent of the session lock.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(Config)
}

// NewStore returns a store holding a copy of cfg.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg.Clone()}
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg.Clone()
}

// Update applies fn to a copy and swaps it in if it validates.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	next := s.cfg.Clone()
	fn(next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("rejecting settings update: %w", err)
	}
	s.cfg = next
	listeners := append([]func(Config){}, s.listeners...)
	snap := *next.Clone()
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return nil
}

// Replace swaps in cfg wholesale.
func (s *Store) Replace(cfg *Config) error {
	return s.Update(func(c *Config) { *c = *cfg.Clone() })
}

// OnChange registers a listener called after every successful update.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Watch reloads path whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
// Reload failures are passed to onErr and the previous settings stay.
func (s *Store) Watch(ctx context.Context, path string, onErr func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize settings watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("resolving settings path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching settings directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.reload(abs); err != nil && onErr != nil {
					onErr(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(err)
				}
			}
		}
	}()
	return nil
}

func (s *Store) reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	return s.Replace(cfg)
}
