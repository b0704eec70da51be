package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	testUpstreamRepo = "upstream"
	testRoot         = "root"
	testGitUser      = "proposal-mirror-test"
)

var testLog = slog.Default()

// mustInitUpstream creates upstream repository with given files committed
// on the default branch and returns its path
func mustInitUpstream(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), testUpstreamRepo)
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	mustCommit(t, dir, files)
	return dir
}

// mustCommit writes files to the upstream work tree and commits them
func mustCommit(t *testing.T, dir string, files map[string]string) string {
	t.Helper()

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	hash, err := wt.Commit(fmt.Sprintf("update %d files", len(files)), &git.CommitOptions{
		Author: &object.Signature{
			Name:  testGitUser,
			Email: testGitUser + "@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return hash.String()
}

// mustNewMirror returns mirror of the upstream with working copies
// created under a test root
func mustNewMirror(t *testing.T, upstream string, cloner Cloner, baseDelay time.Duration) (*Mirror, string) {
	t.Helper()

	root := filepath.Join(t.TempDir(), testRoot)
	m, err := New(Config{
		Remote:    upstream,
		Root:      root,
		BaseDelay: baseDelay,
	}, cloner, testLog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Teardown)
	return m, root
}

func mustGitCloner(t *testing.T, remote string) *GitCloner {
	t.Helper()
	c, err := NewGitCloner(remote, Auth{}, testLog)
	if err != nil {
		t.Fatalf("NewGitCloner: %v", err)
	}
	return c
}

// flakyCloner fails first cloneFailures clone attempts leaving partial
// clone behind and fails every fetch while fetchErr is set. If
// fetchRelease is set fetch signals fetchStarted and waits for release.
type flakyCloner struct {
	Cloner

	mu            sync.Mutex
	cloneFailures int
	cloneCalls    int
	cloneTimes    []time.Time
	fetchErr      error

	fetchStarted chan struct{}
	fetchRelease chan struct{}
}

func (f *flakyCloner) Clone(ctx context.Context, url, dir string) (*git.Repository, error) {
	f.mu.Lock()
	f.cloneCalls++
	call := f.cloneCalls
	f.cloneTimes = append(f.cloneTimes, time.Now())
	fail := call <= f.cloneFailures
	f.mu.Unlock()

	if fail {
		os.MkdirAll(filepath.Join(dir, ".git", "objects", "pack"), 0o755)
		os.WriteFile(filepath.Join(dir, "partial"), []byte("partial"), 0o644)
		return nil, fmt.Errorf("attempt %d: connection reset by peer", call)
	}
	return f.Cloner.Clone(ctx, url, dir)
}

func (f *flakyCloner) Fetch(ctx context.Context, repo *git.Repository, remote string) error {
	f.mu.Lock()
	err := f.fetchErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if f.fetchRelease != nil {
		f.fetchStarted <- struct{}{}
		select {
		case <-f.fetchRelease:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.Cloner.Fetch(ctx, repo, remote)
}

func (f *flakyCloner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cloneCalls
}

func mustReadDirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
