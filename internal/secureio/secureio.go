// Package secureio provides scoped temporary files and directories that
// guarantee secure cleanup — overwrite with random bytes, then remove — on
// every exit path, including panics.
package secureio

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempFile is a secure scratch file owned exclusively by the scope that
// created it. Call Close to guarantee overwrite-then-delete.
type TempFile struct {
	path   string
	file   *os.File
	closed bool
}

// NewTempFile creates a file with 0600 permissions under dir (or the
// default temp directory if dir is empty).
func NewTempFile(dir, pattern string) (*TempFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("secureio: create temp file: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("secureio: chmod temp file: %w", err)
	}
	return &TempFile{path: f.Name(), file: f}, nil
}

// Path returns the underlying file's path.
func (t *TempFile) Path() string { return t.path }

// Write writes to the underlying file.
func (t *TempFile) Write(p []byte) (int, error) { return t.file.Write(p) }

// Sync flushes buffered writes to disk.
func (t *TempFile) Sync() error { return t.file.Sync() }

// Close overwrites the file with random bytes the size of its current
// content, then removes it. Safe to call multiple times; only the first
// call has effect. Always attempts removal even if the overwrite fails.
func (t *TempFile) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	var overwriteErr error
	if info, err := t.file.Stat(); err == nil && info.Size() > 0 {
		overwriteErr = secureOverwrite(t.file, info.Size())
	}
	closeErr := t.file.Close()
	removeErr := os.Remove(t.path)

	if overwriteErr != nil {
		return overwriteErr
	}
	if closeErr != nil {
		return closeErr
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return nil
}

func secureOverwrite(f *os.File, size int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("secureio: seek: %w", err)
	}
	buf := make([]byte, 4096)
	var written int64
	for written < size {
		n := int64(len(buf))
		if size-written < n {
			n = size - written
		}
		if _, err := rand.Read(buf[:n]); err != nil {
			return fmt.Errorf("secureio: random fill: %w", err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("secureio: overwrite: %w", err)
		}
		written += n
	}
	return f.Sync()
}

// TempDir is a secure scratch directory (mode 0700) that recursively
// removes its entire tree on Close.
type TempDir struct {
	path   string
	closed bool
}

// NewTempDir creates a directory with 0700 permissions under parent (or
// the default temp directory if parent is empty).
func NewTempDir(parent, pattern string) (*TempDir, error) {
	path, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("secureio: create temp dir: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("secureio: chmod temp dir: %w", err)
	}
	return &TempDir{path: path}, nil
}

// Path returns the directory's path.
func (d *TempDir) Path() string { return d.path }

// Join returns a path inside the scoped directory.
func (d *TempDir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Close securely deletes every regular file under the directory (overwrite
// then remove) before removing the directory tree itself. Idempotent.
func (d *TempDir) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	err := filepath.Walk(d.path, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0o600)
		if err != nil {
			return nil // best-effort: file may already be gone
		}
		if info.Size() > 0 {
			_ = secureOverwrite(f, info.Size())
		}
		f.Close()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("secureio: secure walk: %w", err)
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("secureio: remove dir: %w", err)
	}
	return nil
}
