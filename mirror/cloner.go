package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/utilitywarehouse/proposal-mirror/auth"
	"github.com/utilitywarehouse/proposal-mirror/giturl"
)

// Cloner is the version control client used by the Mirror.
type Cloner interface {
	// Clone clones the remote url into existing empty dir and checks out
	// the remote default branch.
	Clone(ctx context.Context, url, dir string) (*git.Repository, error)
	// Fetch updates all remote tracking references of the given remote.
	// nothing to fetch is not an error.
	Fetch(ctx context.Context, repo *git.Repository, remote string) error
	// Open opens the repository at dir.
	Open(dir string) (*git.Repository, error)
}

// GitCloner implements Cloner with go-git. It is safe for concurrent use.
type GitCloner struct {
	remote    string
	gitURL    *giturl.URL
	auth      Auth
	githubApp *auth.GithubApp
	log       *slog.Logger
}

// NewGitCloner returns go-git based Cloner which authenticates with given
// auth config when talking to https remote.
func NewGitCloner(remote string, a Auth, log *slog.Logger) (*GitCloner, error) {
	gURL, err := parseRemote(remote)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	c := &GitCloner{
		remote: remote,
		gitURL: gURL,
		auth:   a,
		log:    log,
	}

	if a.GithubAppInstallationID != "" {
		c.githubApp = &auth.GithubApp{
			AppID:          a.GithubAppID,
			InstallationID: a.GithubAppInstallationID,
			PrivateKeyPath: a.GithubAppPrivateKeyPath,
			// github matches repo name without `.git` for permission for token req
			Repositories: []string{gURL.Name()},
		}
	}

	return c, nil
}

func (c *GitCloner) Clone(ctx context.Context, url, dir string) (*git.Repository, error) {
	am, err := c.authMethod(ctx)
	if err != nil {
		return nil, err
	}

	c.log.Log(ctx, -8, "cloning repository", "dir", dir)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        url,
		RemoteName: git.DefaultRemoteName,
		Auth:       am,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning repository: %w", err)
	}
	return repo, nil
}

func (c *GitCloner) Fetch(ctx context.Context, repo *git.Repository, remote string) error {
	am, err := c.authMethod(ctx)
	if err != nil {
		return err
	}

	c.log.Log(ctx, -8, "fetching remote", "remote", remote)
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		Auth:       am,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching %s: %w", remote, err)
	}
	return nil
}

func (c *GitCloner) Open(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, nil
}

var _ Cloner = (*GitCloner)(nil)

// authMethod returns nil if no auth is needed
func (c *GitCloner) authMethod(ctx context.Context) (transport.AuthMethod, error) {
	// only https remotes take basic auth
	if c.gitURL.Scheme != "https" {
		return nil, nil
	}

	username, password, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, nil
	}
	return basicAuth(username, password), nil
}
