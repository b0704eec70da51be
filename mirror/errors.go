package mirror

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotInitialized is returned by read and refresh operations when
	// there is no working copy
	ErrNotInitialized = errors.New("repository mirror not initialized")

	// ErrFileNotFound matches *FileNotFoundError
	ErrFileNotFound = errors.New("file not found")

	// ErrDirectoryNotFound matches *DirectoryNotFoundError
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrCloneFailed matches *CloneError returned once Initialize gave up
	ErrCloneFailed = errors.New("clone failed")

	// ErrFetchFailed matches *FetchError, working copy is left as it was
	ErrFetchFailed = errors.New("fetch failed")

	// ErrInvalidPath matches *PathError, returned for absolute paths and
	// paths escaping the working copy
	ErrInvalidPath = errors.New("invalid path")
)

// FileNotFoundError is returned when the path is absent in the working copy.
// It matches both ErrFileNotFound and fs.ErrNotExist.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

func (e *FileNotFoundError) Is(target error) bool {
	return target == ErrFileNotFound || target == fs.ErrNotExist
}

// DirectoryNotFoundError is returned when the dir is absent in the working copy.
// It matches both ErrDirectoryNotFound and fs.ErrNotExist.
type DirectoryNotFoundError struct {
	Path string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("directory not found: %s", e.Path)
}

func (e *DirectoryNotFoundError) Is(target error) bool {
	return target == ErrDirectoryNotFound || target == fs.ErrNotExist
}

// PathError is returned when given path is absolute or escapes the working copy
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q err:%v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

func (e *PathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// CloneError is returned by Initialize once all clone attempts are exhausted.
// Err is the failure of the last attempt.
type CloneError struct {
	Attempts int
	Err      error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("unable to clone repository after %d attempts err:%v", e.Attempts, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

func (e *CloneError) Is(target error) bool {
	return target == ErrCloneFailed
}

// FetchError is returned when Refresh could not update the working copy
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unable to fetch from origin err:%v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
