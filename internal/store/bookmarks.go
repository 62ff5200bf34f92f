// Package store loads the category/bookmark file the grid renders from.
// The icon subsystem consumes it read-only; all editing happens elsewhere.
package store

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/logging"
)

// BookmarkStore reads categories and bookmarks from a JSON file and watches
// it for external edits.
type BookmarkStore struct {
	path string

	mu         sync.RWMutex
	categories []entity.Category

	watcher   *fsnotify.Watcher
	onReload  []func([]entity.Category)
	closeOnce sync.Once
	done      chan struct{}
}

// NewBookmarkStore creates a store for the given file and performs the
// initial load. A missing file yields an empty store, not an error.
func NewBookmarkStore(ctx context.Context, path string) (*BookmarkStore, error) {
	s := &BookmarkStore{
		path: path,
		done: make(chan struct{}),
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Categories returns the current categories.
func (s *BookmarkStore) Categories() []entity.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories
}

// Category returns the category at index, or an empty category when out of
// range.
func (s *BookmarkStore) Category(index int) entity.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.categories) {
		return entity.Category{}
	}
	return s.categories[index]
}

// OnReload registers a callback invoked after every successful reload.
func (s *BookmarkStore) OnReload(fn func([]entity.Category)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Watch starts watching the bookmark file and reloads on writes.
func (s *BookmarkStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return err
	}
	s.watcher = watcher

	log := logging.FromContext(ctx)

	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.reload(ctx); err != nil {
					log.Warn().Err(err).Str("path", s.path).Msg("bookmark reload failed")
					continue
				}
				s.notify()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Debug().Err(err).Msg("bookmark watcher error")
			}
		}
	}()

	return nil
}

// Close stops the watcher.
func (s *BookmarkStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

func (s *BookmarkStore) reload(ctx context.Context) error {
	log := logging.FromContext(ctx)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", s.path).Msg("bookmark file not found, starting empty")
			s.mu.Lock()
			s.categories = nil
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var categories []entity.Category
	if err := json.Unmarshal(raw, &categories); err != nil {
		return err
	}

	// Bookmarks created by hand-edited files may lack ids; assign them so
	// every bookmark has a stable request key.
	for ci := range categories {
		for bi := range categories[ci].Items {
			if categories[ci].Items[bi].ID == "" {
				categories[ci].Items[bi].ID = uuid.NewString()
			}
		}
	}

	s.mu.Lock()
	s.categories = categories
	s.mu.Unlock()

	log.Debug().Int("categories", len(categories)).Str("path", s.path).Msg("bookmarks loaded")
	return nil
}

func (s *BookmarkStore) notify() {
	s.mu.RLock()
	callbacks := make([]func([]entity.Category), len(s.onReload))
	copy(callbacks, s.onReload)
	categories := s.categories
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn(categories)
	}
}
