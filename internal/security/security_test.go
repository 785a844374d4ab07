package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// =============================================================================
// File Tests
// =============================================================================

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trace.yaml")

	if err := WriteFileAtomic(path, []byte("first"), PermPrivateFile); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), PermPrivateFile); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected %q, got %q", "second", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}

	if runtime.GOOS != "windows" {
		info, _ := os.Stat(path)
		if info.Mode().Perm() != PermPrivateFile {
			t.Errorf("expected mode %04o, got %04o", PermPrivateFile, info.Mode().Perm())
		}
	}
}

func TestAtomicFileAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	f, err := CreateAtomic(path, PermPrivateFile)
	if err != nil {
		t.Fatalf("CreateAtomic failed: %v", err)
	}
	f.Write([]byte("partial"))
	f.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("aborted write must not create the file, stat err = %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 0 {
		t.Errorf("temporary file left behind")
	}
}

func TestEnsurePrivateDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix permissions")
	}
	dir := filepath.Join(t.TempDir(), "runtime")
	if err := EnsurePrivateDir(dir); err != nil {
		t.Fatalf("create: %v", err)
	}

	os.Chmod(dir, 0755)
	if err := EnsurePrivateDir(dir); err != nil {
		t.Fatalf("tighten: %v", err)
	}
	info, _ := os.Stat(dir)
	if info.Mode().Perm() != PermPrivateDir {
		t.Errorf("expected mode %04o, got %04o", PermPrivateDir, info.Mode().Perm())
	}

	file := filepath.Join(dir, "file")
	os.WriteFile(file, nil, 0600)
	if err := EnsurePrivateDir(file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
}

// =============================================================================
// Rate Limiting Tests
// =============================================================================

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newRateLimiter(10, 3, func() time.Time { return now })

	for i := range 3 {
		if !r.Allow() {
			t.Fatalf("burst request %d rejected", i)
		}
	}
	if r.Allow() {
		t.Error("fourth request should be limited")
	}

	now = now.Add(100 * time.Millisecond)
	if !r.Allow() {
		t.Error("one token should refill after 100ms at 10/s")
	}
	if r.Allow() {
		t.Error("only one token refilled")
	}

	now = now.Add(time.Hour)
	for i := range 3 {
		if !r.Allow() {
			t.Fatalf("refill is capped at burst, request %d rejected", i)
		}
	}
	if r.Allow() {
		t.Error("bucket must not exceed burst")
	}

	r.Reset()
	if !r.Allow() {
		t.Error("Reset should refill")
	}
}

func TestConnectionLimiter(t *testing.T) {
	cl := NewConnectionLimiter(3, 2)

	if !cl.Acquire("1000") || !cl.Acquire("1000") {
		t.Fatal("first two connections for a user should pass")
	}
	if cl.Acquire("1000") {
		t.Error("per-user cap not enforced")
	}
	if !cl.Acquire("0") {
		t.Error("another user should get a slot")
	}
	if cl.Acquire("2000") {
		t.Error("global cap not enforced")
	}
	if cl.Current() != 3 {
		t.Errorf("expected 3 connections, got %d", cl.Current())
	}

	cl.Release("1000")
	if !cl.Acquire("2000") {
		t.Error("released slot should be reusable")
	}

	cl.Release("unknown")
	if cl.Current() != 2 {
		t.Errorf("expected 2 connections after stray release, got %d", cl.Current())
	}
}
