package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/juju/fslock"

	"github.com/utilitywarehouse/proposal-mirror/internal/lock"
	"github.com/utilitywarehouse/proposal-mirror/internal/utils"
)

// Mirror owns a single local working copy of the remote repository.
// Lifecycle operations are serialised with each other. Reads run
// concurrently with each other and with the network part of a refresh,
// they only wait while the working copy is being replaced or updated.
// A Mirror is safe for concurrent use by multiple goroutines.
//
// Every working copy has a sibling lock file held for as long as the copy
// is in use, see RemoveOrphanedWorkingCopy.
type Mirror struct {
	opLock      lock.Mutex    // held during initialize, refresh and teardown, taken before lock
	lock        lock.RWMutex  // write locked while handle or work tree changes
	remote      string        // remote repo to mirror
	name        string        // repo name used as label and dir prefix
	root        string        // absolute path to the dir where working copies are created
	maxAttempts int           // clone attempts on initialize
	baseDelay   time.Duration // backoff after 1st failed clone attempt
	cloner      Cloner
	log         *slog.Logger

	// handle, dir, repo, fs and dirLock are always set and cleared
	// together while holding both opLock and lock
	dir     string           // absolute path to the current working copy
	repo    *git.Repository  // open repository at dir
	fs      billy.Filesystem // file system bound to dir
	dirLock *fslock.Lock     // lock file of dir
}

// New creates a Mirror from the given config. Remote repo will not be
// cloned until Initialize is called. If cloner is nil go-git based
// cloner is used.
func New(conf Config, cloner Cloner, log *slog.Logger) (*Mirror, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	name := repoName(conf.Remote)

	if log == nil {
		log = slog.Default()
	}
	log = log.With("repo", name)

	if cloner == nil {
		c, err := NewGitCloner(conf.Remote, conf.Auth, log)
		if err != nil {
			return nil, err
		}
		cloner = c
	}

	return &Mirror{
		remote:      conf.Remote,
		name:        name,
		root:        filepath.Clean(conf.Root),
		maxAttempts: conf.MaxAttempts,
		baseDelay:   conf.BaseDelay,
		cloner:      cloner,
		log:         log,
	}, nil
}

// Remote returns the remote URL of the mirrored repository
func (m *Mirror) Remote() string {
	return m.remote
}

// Name returns the mirrored repository name
func (m *Mirror) Name() string {
	return m.name
}

// Dir returns absolute path of the current working copy or empty
// string if mirror is not initialized. path is only valid until next
// Initialize or Teardown call.
func (m *Mirror) Dir() string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.dir
}

// IsInitialized returns true if mirror holds a working copy
func (m *Mirror) IsInitialized() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.repo != nil
}

// Head returns commit hash checked out in the working copy. It waits for
// running refresh as refs are rewritten during fetch.
func (m *Mirror) Head() (string, error) {
	m.opLock.Lock()
	defer m.opLock.Unlock()

	if m.repo == nil {
		return "", ErrNotInitialized
	}
	ref, err := m.repo.Head()
	if err != nil {
		return "", fmt.Errorf("unable to get HEAD err:%w", err)
	}
	return ref.Hash().String(), nil
}

// Initialize clones remote repository into a new working copy and returns
// its absolute path. Any previous working copy is removed first. Clone is
// retried with exponential backoff, if all attempts fail mirror is left
// uninitialized and *CloneError is returned.
func (m *Mirror) Initialize(ctx context.Context) (string, error) {
	m.opLock.Lock()
	defer m.opLock.Unlock()
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.dir != "" {
		m.log.Info("removing previous working copy", "path", m.dir)
		m.removeWorkingCopy(m.dir, m.dirLock)
		m.clearHandle()
	}

	if err := utils.EnsureDir(m.root); err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(m.root, m.name+"-")
	if err != nil {
		return "", fmt.Errorf("unable to create working copy dir err:%w", err)
	}

	dirLock, err := lockWorkingCopy(dir)
	if err != nil {
		m.removeWorkingCopy(dir, nil)
		return "", err
	}

	start := time.Now()
	repo, err := m.cloneWithRetry(ctx, dir)
	if err != nil {
		// do not leave partially cloned dir behind
		m.removeWorkingCopy(dir, dirLock)
		return "", err
	}

	m.setHandle(dir, repo, dirLock)
	m.log.Info("repository cloned", "path", dir, "time", time.Since(start))

	return dir, nil
}

func (m *Mirror) cloneWithRetry(ctx context.Context, dir string) (*git.Repository, error) {
	var last attempt

	for n := 1; n <= m.maxAttempts; n++ {
		repo, err := m.cloner.Clone(ctx, m.remote, dir)
		recordCloneAttempt(m.name, err == nil)
		if err == nil {
			return repo, nil
		}

		last = attempt{n: n, err: err}
		if n == m.maxAttempts {
			break
		}

		last.backoff = backoff(m.baseDelay, n)
		m.log.Warn("clone attempt failed, retrying", "attempt", n, "backoff", last.backoff, "err", err)

		if err := sleep(ctx, last.backoff); err != nil {
			last.err = errors.Join(err, last.err)
			break
		}

		// failed attempt might have left partial clone behind
		if err := utils.RemoveDirContents(dir, m.log); err != nil {
			m.log.Error("unable to clean working copy dir", "path", dir, "err", err)
		}
	}

	m.log.Error("unable to clone repository", "attempts", last.n, "err", last.err)
	return nil, &CloneError{Attempts: last.n, Err: last.err}
}

// Refresh fetches all branches from origin and updates checked out
// branch of the working copy to the fetched state. On failure working
// copy is left untouched. Reads are only blocked while the work tree
// is updated, not during fetch.
func (m *Mirror) Refresh(ctx context.Context) error {
	m.opLock.Lock()
	defer m.opLock.Unlock()

	// handle only changes while opLock is held
	if m.repo == nil {
		return ErrNotInitialized
	}

	defer updateRefreshLatency(m.name, time.Now())

	err := m.refresh(ctx)
	recordRefresh(m.name, err == nil)
	if err != nil {
		m.log.Error("refresh failed", "err", err)
	}
	return err
}

func (m *Mirror) refresh(ctx context.Context) error {
	start := time.Now()

	// fetch only writes to the git dir which is never served to readers
	if err := m.cloner.Fetch(ctx, m.repo, git.DefaultRemoteName); err != nil {
		return &FetchError{Err: err}
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	// re-open to pick up updated refs and objects
	repo, err := m.cloner.Open(m.dir)
	if err != nil {
		return &FetchError{Err: err}
	}

	hash, err := resetToRemote(repo)
	if err != nil {
		return &FetchError{Err: err}
	}

	m.repo = repo
	m.log.Info("refresh complete", "hash", hash, "time", time.Since(start))
	return nil
}

// resetToRemote hard resets checked out branch and work tree to its remote
// tracking branch. detached HEAD is left as is.
func resetToRemote(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("unable to get HEAD err:%w", err)
	}

	if !head.Name().IsBranch() {
		return head.Hash().String(), nil
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, head.Name().Short()), true)
	if err != nil {
		return "", fmt.Errorf("unable to get remote ref for %s err:%w", head.Name().Short(), err)
	}

	if remoteRef.Hash() == head.Hash() {
		return head.Hash().String(), nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("unable to get worktree err:%w", err)
	}

	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return "", fmt.Errorf("unable to reset worktree to %s err:%w", remoteRef.Hash(), err)
	}

	return remoteRef.Hash().String(), nil
}

// ReadFile returns content of the file at path relative to the working copy
func (m *Mirror) ReadFile(rel string) (string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.fs == nil {
		return "", ErrNotInitialized
	}

	p, err := cleanPath(rel)
	if err != nil {
		return "", err
	}
	if isGitPath(p) {
		return "", &FileNotFoundError{Path: rel}
	}

	data, err := util.ReadFile(m.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &FileNotFoundError{Path: rel}
		}
		return "", err
	}
	return string(data), nil
}

// FileExists returns true if file or dir exists at path relative to the
// working copy. it never fails, any error is reported as false.
func (m *Mirror) FileExists(rel string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.fs == nil {
		return false
	}

	p, err := cleanPath(rel)
	if err != nil || isGitPath(p) {
		return false
	}

	_, err = m.fs.Stat(p)
	return err == nil
}

// ListDirectory returns names of the entries directly under given path
// relative to the working copy, sorted by name. git dir is not listed.
func (m *Mirror) ListDirectory(rel string) ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.fs == nil {
		return nil, ErrNotInitialized
	}

	p, err := cleanPath(rel)
	if err != nil {
		return nil, err
	}
	if isGitPath(p) {
		return nil, &DirectoryNotFoundError{Path: rel}
	}

	entries, err := m.fs.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &DirectoryNotFoundError{Path: rel}
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if p == "." && e.Name() == gitDirName {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Teardown removes the working copy and leaves mirror uninitialized.
// Calling it on uninitialized mirror is a no-op.
func (m *Mirror) Teardown() {
	m.opLock.Lock()
	defer m.opLock.Unlock()
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.dir == "" {
		return
	}

	m.log.Info("removing working copy", "path", m.dir)
	m.removeWorkingCopy(m.dir, m.dirLock)
	m.clearHandle()
}

func (m *Mirror) setHandle(dir string, repo *git.Repository, dirLock *fslock.Lock) {
	m.dir = dir
	m.repo = repo
	m.fs = osfs.New(dir, osfs.WithBoundOS())
	m.dirLock = dirLock
}

func (m *Mirror) clearHandle() {
	m.dir = ""
	m.repo = nil
	m.fs = nil
	m.dirLock = nil
}

// removeWorkingCopy is best effort, failure is only logged as the new
// working copy is always created at a new location
func (m *Mirror) removeWorkingCopy(dir string, dirLock *fslock.Lock) {
	if err := releaseWorkingCopy(dir, dirLock); err != nil {
		m.log.Error("unable to remove working copy", "path", dir, "err", err)
	}
}
