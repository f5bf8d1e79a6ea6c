// Package storage provides the durable blob store backing the chat core.
//
// A Root owns one directory tree; named sub-stores keep independent key/value
// namespaces inside it. Values are written atomically (temp file + rename +
// fsync) so a crash mid-write never corrupts a key.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Root is an open storage directory. It is safe for concurrent use.
type Root struct {
	path string

	mu     sync.Mutex
	locals map[string]*Local
	closed bool
}

// Open creates (if needed) and opens the storage root at path. Failure here
// is fatal for the caller: no storage, no service.
func Open(path string) (*Root, error) {
	if path == "" {
		return nil, errors.New("storage: empty path")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("storage: open root %s: %w", path, err)
	}
	return &Root{path: path, locals: make(map[string]*Local)}, nil
}

// Path returns the root directory path.
func (r *Root) Path() string { return r.path }

// Local opens (or returns the already-open) named sub-store.
func (r *Root) Local(name string) (*Local, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("storage: root closed")
	}
	if l, ok := r.locals[name]; ok {
		return l, nil
	}
	dir := filepath.Join(r.path, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: open sub-store %s: %w", name, err)
	}
	l := &Local{dir: dir}
	r.locals[name] = l
	return l, nil
}

// Close marks the root closed. Persisted data stays on disk for the next
// start.
func (r *Root) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Destroy closes the root and removes the entire directory tree.
func (r *Root) Destroy() error {
	_ = r.Close()
	if err := os.RemoveAll(r.path); err != nil {
		return fmt.Errorf("storage: destroy %s: %w", r.path, err)
	}
	return nil
}

// Local is a flat key/value namespace where each key is one file.
type Local struct {
	dir string
	mu  sync.Mutex
}

// Get reads the value for key. A missing key returns (nil, nil): absent data
// is an empty collection to the caller, not an error.
func (l *Local) Get(key string) ([]byte, error) {
	b, err := os.ReadFile(l.keyPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return b, nil
}

// Put writes the value for key atomically. Last write wins; a concurrent Put
// on the same key can never interleave bytes.
func (l *Local) Put(key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	final := l.keyPath(key)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	syncDir(l.dir)
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (l *Local) Delete(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.keyPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func (l *Local) keyPath(key string) string {
	return filepath.Join(l.dir, key+".bin")
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		zap.L().Debug("storage: dir sync open failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	defer d.Close()
	_ = d.Sync()
}
