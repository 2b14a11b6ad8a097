package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// fileLock provides cross-process mutual exclusion using flock(2), so the
// server, the import tool and fitforgectl can share one data directory.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// Lock acquires an exclusive lock, blocking until available.
// The lock file is created if it does not exist.
func (fl *fileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock %s: %w", fl.path, err)
	}
	fl.file = f
	return nil
}

// Unlock releases the lock and closes the lock file.
func (fl *fileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	cerr := fl.file.Close()
	fl.file = nil
	if err != nil {
		return fmt.Errorf("funlock %s: %w", fl.path, err)
	}
	return cerr
}

// atomicWriteFile writes data to a temp file in the target directory,
// syncs it, and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
