package util

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	fileLocksMu sync.Mutex
	fileLocks   = make(map[string]*sync.Mutex)
)

// lockFor returns the in-process mutex guarding the canonical form of the
// given path. OS-level file locks are not assumed; every writer in this
// process funnels through the same mutex instead.
func lockFor(path string) *sync.Mutex {
	canonical, err := filepath.Abs(path)
	if err != nil {
		canonical = path
	}
	fileLocksMu.Lock()
	defer fileLocksMu.Unlock()
	if mu, ok := fileLocks[canonical]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	fileLocks[canonical] = mu
	return mu
}

// WithFileLock runs fn while holding the per-path lock for path.
func WithFileLock(path string, fn func() error) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// WriteFileLocked rewrites the whole file under the per-path lock.
func WriteFileLocked(path string, data []byte, perm os.FileMode) error {
	return WithFileLock(path, func() error {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return os.WriteFile(path, data, perm)
	})
}

// ReadFileLocked reads the whole file under the per-path lock, so a
// concurrent rewrite is never observed half-written.
func ReadFileLocked(path string) ([]byte, error) {
	var data []byte
	err := WithFileLock(path, func() error {
		var errRead error
		data, errRead = os.ReadFile(path)
		return errRead
	})
	return data, err
}
