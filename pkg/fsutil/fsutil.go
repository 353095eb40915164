package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OwnerConfig holds parsed UID/GID for generated artifacts.
type OwnerConfig struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID" string. Returns nil if empty.
func ParseOwner(owner string) (*OwnerConfig, error) {
	if owner == "" {
		return nil, nil
	}

	parts := strings.Split(owner, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid format %q, expected UID:GID", owner)
	}

	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", parts[0], err)
	}

	gid, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", parts[1], err)
	}

	return &OwnerConfig{UID: uid, GID: gid}, nil
}

// Chown sets ownership if owner is not nil. Best-effort, ignores errors.
func Chown(path string, owner *OwnerConfig) {
	if owner == nil {
		return
	}

	_ = os.Chown(path, owner.UID, owner.GID)
}

// Exists reports whether path exists. Permission errors count as existing
// so that callers never overwrite something they cannot inspect.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// TempSibling creates an empty hidden temporary file next to path, keeping
// its extension, so that a later rename over path stays on the same
// filesystem. The caller owns cleanup.
func TempSibling(path string) (string, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	f, err := os.CreateTemp(filepath.Dir(path), "."+stem+".*"+ext)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	name := f.Name()

	if err := f.Close(); err != nil {
		_ = os.Remove(name)

		return "", fmt.Errorf("closing temp file: %w", err)
	}

	return name, nil
}

// WriteFile writes data to a temporary sibling of path and renames it into
// place, then sets ownership. Readers never observe a partial file.
func WriteFile(path string, data []byte, perm os.FileMode, owner *OwnerConfig) error {
	tmp, err := TempSibling(path)
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("writing temp file: %w", err)
	}

	// CreateTemp uses 0600 regardless of perm.
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("renaming temp file: %w", err)
	}

	Chown(path, owner)

	return nil
}

// Replace atomically moves src over dst and applies owner. An existing dst
// keeps its permissions; otherwise perm is used.
func Replace(src, dst string, perm os.FileMode, owner *OwnerConfig) error {
	if info, err := os.Stat(dst); err == nil {
		perm = info.Mode().Perm()
	}

	if err := os.Chmod(src, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("replacing %s: %w", dst, err)
	}

	Chown(dst, owner)

	return nil
}

// FileSize returns the size of path in bytes, or 0 when it cannot be read.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}
