package mirror

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/utilitywarehouse/proposal-mirror/giturl"
	"github.com/utilitywarehouse/proposal-mirror/internal/utils"
)

const gitDirName = ".git"

var matchSpecialCharReg = regexp.MustCompile(`[^\w\-\.]+`)

// attempt is the outcome of a single clone attempt
type attempt struct {
	n       int
	backoff time.Duration // wait before next attempt
	err     error
}

// backoff returns the wait after failed attempt n (1 based)
// base * 2^(n-1)
func backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		return 0
	}
	return base * time.Duration(1<<(n-1))
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRemote parses remote git URL. Local absolute paths which giturl
// can not parse are accepted as is.
func parseRemote(remote string) (*giturl.URL, error) {
	gURL, err := giturl.Parse(remote)
	if err == nil {
		return gURL, nil
	}
	if !filepath.IsAbs(remote) {
		return nil, err
	}
	dir, base := utils.SplitAbs(filepath.Clean(remote))
	return &giturl.URL{Scheme: "local", Path: strings.Trim(dir, "/"), Repo: base}, nil
}

// repoName returns name used for logs, metrics and working copy dir prefix
func repoName(remote string) string {
	name := filepath.Base(remote)
	if gURL, err := parseRemote(remote); err == nil {
		name = gURL.Name()
	}
	name = matchSpecialCharReg.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "_" || name == "/" {
		return "repo"
	}
	return name
}

// cleanPath validates path relative to the working copy and returns
// slash separated clean version of it
func cleanPath(rel string) (string, error) {
	p, err := utils.CleanRelative(rel)
	if err != nil {
		return "", &PathError{Path: rel, Err: err}
	}
	return p, nil
}

// isGitPath returns true if cleaned path points into the git dir of the
// working copy, those are not part of the mirrored content
func isGitPath(p string) bool {
	return p == gitDirName || strings.HasPrefix(p, gitDirName+"/")
}
