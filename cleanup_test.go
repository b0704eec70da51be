package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/utilitywarehouse/proposal-mirror/mirror"
)

func mustInitUpstream(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "upstream")
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Proposals\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return dir
}

func mustInitializedMirror(t *testing.T, upstream, root string) *mirror.Mirror {
	t.Helper()

	m, err := mirror.New(mirror.Config{Remote: upstream, Root: root, BaseDelay: time.Millisecond}, nil, logger)
	if err != nil {
		t.Fatalf("mirror.New: %v", err)
	}
	t.Cleanup(m.Teardown)

	if _, err := m.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func assertExists(t *testing.T, path string, want bool) {
	t.Helper()
	_, err := os.Stat(path)
	if got := !errors.Is(err, os.ErrNotExist); got != want {
		t.Errorf("%s exists:%t want:%t (stat err:%v)", filepath.Base(path), got, want, err)
	}
}

func Test_cleanupOrphanedWorkingCopies(t *testing.T) {
	upstream := mustInitUpstream(t)
	root := filepath.Join(t.TempDir(), "root")

	// first process still serving from its working copy
	running := mustInitializedMirror(t, upstream, root)
	name := running.Name()

	mustInit := func(dirName string, bare bool) string {
		t.Helper()
		dir := filepath.Join(root, dirName)
		if _, err := git.PlainInit(dir, bare); err != nil {
			t.Fatalf("PlainInit: %v", err)
		}
		return dir
	}
	mustMkdir := func(dirName string, files ...string) string {
		t.Helper()
		dir := filepath.Join(root, dirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		for _, f := range files {
			if err := os.WriteFile(filepath.Join(dir, f), []byte(f), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
		}
		return dir
	}
	// lock file of a process which has exited
	mustReleasedLock := func(dir string) {
		t.Helper()
		if err := os.WriteFile(mirror.LockFile(dir), nil, 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	// orphaned working copies
	killed := mustInit(name+"-1111", false)
	mustReleasedLock(killed)
	interrupted := mustMkdir(name + "-2222")
	mustReleasedLock(interrupted)
	staleLock := filepath.Join(root, name+"-3333")
	mustReleasedLock(staleLock)

	// not removed
	creating := mustInit(name+"-4444", false) // no lock file yet
	bare := mustInit(name+"-bare", true)
	mustReleasedLock(bare)
	data := mustMkdir(name+"-data", "file.txt")
	mustReleasedLock(data)
	other := mustInit("ercs-5555", false)
	mustReleasedLock(other)

	cleanupOrphanedWorkingCopies(root, name)

	for _, path := range []string{killed, interrupted} {
		assertExists(t, path, false)
		assertExists(t, mirror.LockFile(path), false)
	}
	assertExists(t, mirror.LockFile(staleLock), false)

	for _, path := range []string{running.Dir(), creating, bare, data, other} {
		assertExists(t, path, true)
	}
	assertExists(t, mirror.LockFile(running.Dir()), true)

	if got, err := running.ReadFile("README.md"); err != nil || got != "# Proposals\n" {
		t.Errorf("running mirror ReadFile() = %q, %v want unchanged content", got, err)
	}

	// missing root is not an error
	cleanupOrphanedWorkingCopies(filepath.Join(root, "missing"), name)
}

func Test_cleanupOrphanedWorkingCopies_sharedRoot(t *testing.T) {
	upstream := mustInitUpstream(t)
	root := filepath.Join(t.TempDir(), "root")

	first := mustInitializedMirror(t, upstream, root)

	// second process starting with the same root
	second, err := mirror.New(mirror.Config{Remote: upstream, Root: root, BaseDelay: time.Millisecond}, nil, logger)
	if err != nil {
		t.Fatalf("mirror.New: %v", err)
	}
	t.Cleanup(second.Teardown)

	cleanupOrphanedWorkingCopies(root, second.Name())
	if _, err := second.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if first.Dir() == second.Dir() {
		t.Fatalf("expected distinct working copies got %q", first.Dir())
	}
	for _, m := range []*mirror.Mirror{first, second} {
		if got, err := m.ReadFile("README.md"); err != nil || got != "# Proposals\n" {
			t.Errorf("ReadFile() from %s = %q, %v want file content", m.Dir(), got, err)
		}
	}

	// first process exits, its copy is gone and second keeps serving
	first.Teardown()
	cleanupOrphanedWorkingCopies(root, second.Name())

	if got, err := second.ReadFile("README.md"); err != nil || got != "# Proposals\n" {
		t.Errorf("ReadFile() = %q, %v want file content", got, err)
	}
}
