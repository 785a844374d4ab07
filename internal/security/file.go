// Package security holds the small guards tabletd puts around files it
// writes and clients it serves.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// File permissions for everything tabletd creates.
const (
	PermPrivateFile os.FileMode = 0600
	PermPrivateDir  os.FileMode = 0700
)

var (
	ErrAtomicWriteFailed = errors.New("security: atomic write failed")
	ErrTempFileFailed    = errors.New("security: temporary file creation failed")
	ErrNotDirectory      = errors.New("security: not a directory")
)

// AtomicFile writes to a temporary sibling and renames it over the
// destination on Commit. Readers never observe a partial file.
type AtomicFile struct {
	path     string
	tempFile *os.File
	tempPath string
}

// CreateAtomic starts an atomic write of path with mode perm. Missing
// parent directories are created private.
func CreateAtomic(path string, perm os.FileMode) (*AtomicFile, error) {
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), PermPrivateDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := clean + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempFileFailed, err)
	}
	return &AtomicFile{path: clean, tempFile: f, tempPath: tempPath}, nil
}

// Write writes to the temporary file.
func (a *AtomicFile) Write(p []byte) (int, error) {
	return a.tempFile.Write(p)
}

// Commit syncs the temporary file and renames it into place.
func (a *AtomicFile) Commit() error {
	if err := a.tempFile.Sync(); err != nil {
		a.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := a.tempFile.Close(); err != nil {
		os.Remove(a.tempPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(a.tempPath, a.path); err != nil {
		os.Remove(a.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// Abort drops the write.
func (a *AtomicFile) Abort() {
	a.tempFile.Close()
	os.Remove(a.tempPath)
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteFileAtomic writes data to path atomically with mode perm.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := CreateAtomic(path, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return err
	}
	return f.Commit()
}

// EnsurePrivateDir creates path with mode 0700, or tightens an existing
// directory that group or others can access.
func EnsurePrivateDir(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, PermPrivateDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		if err := os.Chmod(path, PermPrivateDir); err != nil {
			return fmt.Errorf("fix directory permissions: %w", err)
		}
	}
	return nil
}
