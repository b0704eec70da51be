package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/utilitywarehouse/proposal-mirror/internal/utils"
	"github.com/utilitywarehouse/proposal-mirror/mirror"
)

// cleanupOrphanedWorkingCopies deletes working copies of the mirrored
// repo from the root which were left behind when a process was killed
// before teardown. working copy dir names are `<name>-<random>` and each
// has a `<name>-<random>.lock` file held by the process using it. Root
// might be shared by many running processes so copies with a held lock
// and dirs without lock file are never removed.
func cleanupOrphanedWorkingCopies(root, name string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("unable to read root dir for clean up", "err", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() ||
			!strings.HasPrefix(entry.Name(), name+"-") ||
			!strings.HasSuffix(entry.Name(), mirror.LockFileExt) {
			continue
		}

		dir := filepath.Join(root, strings.TrimSuffix(entry.Name(), mirror.LockFileExt))

		removed, err := mirror.RemoveOrphanedWorkingCopy(dir, isOrphanedWorkingCopy)
		switch {
		case errors.Is(err, mirror.ErrWorkingCopyInUse):
			logger.Debug("skipping working copy in use", "path", dir)
		case err != nil:
			logger.Error("unable to remove orphaned working copy", "path", dir, "err", err)
		case removed:
			logger.Info("removed orphaned working copy", "path", dir)
		}
	}
}

// isOrphanedWorkingCopy returns true if dir is missing, empty dir left by
// an interrupted clone or a non bare git repository
func isOrphanedWorkingCopy(dir string) (bool, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return true, nil
	}

	empty, err := utils.DirIsEmpty(dir)
	if err != nil {
		return false, err
	}
	if empty {
		return true, nil
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// bare repository doesn't have worktree
	if _, err := repo.Worktree(); errors.Is(err, git.ErrIsBareRepository) {
		return false, nil
	}
	return true, nil
}
