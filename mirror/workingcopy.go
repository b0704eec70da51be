package mirror

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/juju/fslock"

	"github.com/utilitywarehouse/proposal-mirror/internal/utils"
)

// LockFileExt is the extension of the lock file created next to every
// working copy dir
const LockFileExt = ".lock"

// ErrWorkingCopyInUse is returned by RemoveOrphanedWorkingCopy when the
// lock of the working copy is held by a live process
var ErrWorkingCopyInUse = errors.New("working copy in use")

// LockFile returns path of the lock file which is held by the process
// using the working copy at dir. lock is released by the OS when process
// exits.
func LockFile(dir string) string {
	return strings.TrimRight(dir, string(os.PathSeparator)) + LockFileExt
}

// lockWorkingCopy takes exclusive lock of the working copy at dir
func lockWorkingCopy(dir string) (*fslock.Lock, error) {
	l := fslock.New(LockFile(dir))
	if err := l.TryLock(); err != nil {
		return nil, fmt.Errorf("unable to lock working copy %s err:%w", dir, err)
	}
	return l, nil
}

// releaseWorkingCopy removes working copy dir and its lock file, lock is
// released last so other process never sees an unlocked copy in use
func releaseWorkingCopy(dir string, l *fslock.Lock) error {
	var errs []error
	if err := utils.RemoveDir(dir); err != nil {
		errs = append(errs, err)
	}
	if l == nil {
		return errors.Join(errs...)
	}
	if err := os.Remove(LockFile(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := l.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RemoveOrphanedWorkingCopy removes working copy at dir and its lock file
// if no process holds the lock. check is called with the lock held and
// dir is only removed if it returns true. ErrWorkingCopyInUse is returned
// if lock is held.
func RemoveOrphanedWorkingCopy(dir string, check func(dir string) (bool, error)) (bool, error) {
	l := fslock.New(LockFile(dir))
	if err := l.TryLock(); err != nil {
		if errors.Is(err, fslock.ErrLocked) {
			return false, ErrWorkingCopyInUse
		}
		return false, fmt.Errorf("unable to lock working copy %s err:%w", dir, err)
	}

	ok, err := check(dir)
	if err != nil || !ok {
		l.Unlock()
		return false, err
	}

	return true, releaseWorkingCopy(dir, l)
}
