package auth

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeyFile holds an App private key loaded from disk, optionally kept current
// as the file changes. Key is safe to call concurrently with a reload.
type KeyFile struct {
	path string

	mu  sync.RWMutex
	key *rsa.PrivateKey

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// OpenKeyFile reads and parses the private key at path once.
func OpenKeyFile(path string) (*KeyFile, error) {
	f := &KeyFile{path: path}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// WatchKeyFile loads the key at path and watches it, swapping in the
// re-parsed key whenever the file is rewritten or replaced. A change that
// fails to parse keeps the previous key and logs a warning. Pass a nil log to
// use slog.Default(). Close stops the watcher.
func WatchKeyFile(path string, log *slog.Logger) (*KeyFile, error) {
	f, err := OpenKeyFile(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch key file: %w", err)
	}
	// Watch the directory rather than the file: editors and secret mounts
	// replace files by rename, which silently drops a watch held on the file
	// itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch key file: %w", err)
	}
	f.watcher = w
	f.done = make(chan struct{})
	go f.watch(log)
	return f, nil
}

func (f *KeyFile) watch(log *slog.Logger) {
	base := filepath.Base(f.path)
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.load(); err != nil {
				log.Warn("key file reload failed, keeping previous key",
					slog.String("path", f.path), slog.String("err", err.Error()))
				continue
			}
			log.Debug("key file reloaded", slog.String("path", f.path))
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Debug("key file watch error", slog.String("err", err.Error()))
		}
	}
}

func (f *KeyFile) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return fmt.Errorf("parse key file %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.key = key
	f.mu.Unlock()
	return nil
}

// Key returns the current private key.
func (f *KeyFile) Key() *rsa.PrivateKey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.key
}

// Path returns the file the key was loaded from.
func (f *KeyFile) Path() string { return f.path }

// Close stops watching. It is a no-op for key files opened without a watcher
// and safe to call more than once.
func (f *KeyFile) Close() error {
	if f.watcher == nil {
		return nil
	}
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
	})
	return err
}

// Interface compliance
var _ keyProvider = (*KeyFile)(nil)
