package utils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const defaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'

// ErrPathEscapesRoot is returned when a relative path would resolve
// outside of the directory it is relative to
var ErrPathEscapesRoot = errors.New("path escapes root")

// SplitAbs splits given absolute path into dir and base
func SplitAbs(abs string) (string, string) {
	if abs == "" {
		return "", ""
	}

	// filepath.Split promises that dir+base == input, but trailing slashes on
	// the dir is confusing and ugly.
	pathSep := string(os.PathSeparator)
	dir, base := filepath.Split(strings.TrimRight(abs, pathSep))
	dir = strings.TrimRight(dir, pathSep)
	if len(dir) == 0 {
		dir = string(os.PathSeparator)
	}

	return dir, base
}

// EnsureDir creates dir and all its parents if they don't exist
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return fmt.Errorf("unable to create dir err:%w", err)
	}
	return nil
}

// RemoveDir removes dir and any children it contains. Missing dir
// is not an error.
func RemoveDir(dir string) error {
	if dir == "" {
		return nil
	}
	_, err := os.Lstat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveDirContents iterates the specified dir and removes all contents
// while keeping dir itself
func RemoveDirContents(dir string, log *slog.Logger) error {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	// Save errors until the end.
	var errs []error
	for _, fi := range dirents {
		p := filepath.Join(dir, fi.Name())
		log.Log(context.TODO(), -8, "removing path", "path", p)
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DirIsEmpty returns true if given dir has no entries
func DirIsEmpty(dir string) (bool, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(dirents) == 0, nil
}

// CleanRelative cleans the given slash separated path and makes sure it
// stays within the root it is relative to. Empty path and "." both
// refer to the root itself and are returned as ".".
func CleanRelative(rel string) (string, error) {
	rel = filepath.ToSlash(strings.TrimSpace(rel))
	if rel == "" {
		return ".", nil
	}
	if path.IsAbs(rel) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscapesRoot)
	}
	cleaned := path.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscapesRoot)
	}
	return cleaned, nil
}
