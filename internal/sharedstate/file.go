package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	lockFileName = ".lock"
	valueExt     = ".val"
	tmpExt       = ".tmp"
	lockTimeout  = 2 * time.Second
)

// File is a Store backed by one file per key in a directory, so separate
// processes on the same machine share it. Writes are serialized with an
// flock and land via temp-file rename, so readers never see partial values.
type File struct {
	dir    string
	lock   *flock.Flock
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watchers map[uint64]*watcher
	nextID   uint64
	closed   bool
}

// OpenFile opens (creating if needed) a file store rooted at dir.
func OpenFile(dir string, logger *zap.Logger) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("shared state directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating shared state directory: %w", err)
	}
	return &File{
		dir:      dir,
		lock:     flock.New(filepath.Join(dir, lockFileName)),
		logger:   logger,
		watchers: make(map[uint64]*watcher),
	}, nil
}

func (f *File) Dir() string {
	return f.dir
}

func (f *File) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(data), true, nil
}

func (f *File) Set(key, value string) error {
	return f.withLock(func() error {
		dest := f.path(key)
		tmp := dest + tmpExt
		if err := os.WriteFile(tmp, []byte(value), 0600); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
		if err := os.Rename(tmp, dest); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("renaming %s: %w", key, err)
		}
		return nil
	})
}

func (f *File) Delete(key string) error {
	return f.withLock(func() error {
		err := os.Remove(f.path(key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
		return nil
	})
}

// Watch starts an fsnotify watch on the directory on first use. Changes made
// by other processes are reported the same way as local ones.
func (f *File) Watch(fn func(key string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher == nil && !f.closed {
		if err := f.startWatcherLocked(); err != nil {
			f.logger.Warn("shared state watch unavailable", zap.String("dir", f.dir), zap.Error(err))
		}
	}

	id := f.nextID
	f.nextID++
	w := newWatcher(fn)
	f.watchers[id] = w

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.watchers[id]; ok {
			delete(f.watchers, id)
			close(w.ch)
		}
	}
}

// Close stops the directory watch and detaches all watchers.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for id, w := range f.watchers {
		delete(f.watchers, id)
		close(w.ch)
	}
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func (f *File) startWatcherLocked() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(f.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", f.dir, err)
	}
	f.watcher = w
	go f.dispatch(w)
	return nil
}

func (f *File) dispatch(w *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}
			f.mu.Lock()
			for _, wt := range f.watchers {
				wt.notify(key)
			}
			f.mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Debug("shared state watch error", zap.Error(err))
		}
	}
}

// withLock serializes writers: writeMu within this process (a Flock handle
// is re-entrant for its owner), the flock across processes.
func (f *File) withLock(fn func() error) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := f.lock.TryLockContext(ctx, 5*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring shared state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquiring shared state lock: timed out")
	}
	defer func() { _ = f.lock.Unlock() }()
	return fn()
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.QueryEscape(key)+valueExt)
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, valueExt) {
		return "", false
	}
	key, err := url.QueryUnescape(strings.TrimSuffix(name, valueExt))
	if err != nil {
		return "", false
	}
	return key, true
}

var _ Store = (*File)(nil)
