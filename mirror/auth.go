package mirror

import (
	"context"
	"fmt"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// credentials returns username and password for https remote.
// empty password means anonymous access.
func (c *GitCloner) credentials(ctx context.Context) (string, string, error) {
	switch {
	// if username & password is set use that
	case c.auth.Username != "" && c.auth.Password != "":
		return c.auth.Username, c.auth.Password, nil

	// if only password (token) is set use that
	case c.auth.Password != "":
		return "-", c.auth.Password, nil // username is required

	// if github app config is set use that token
	case c.githubApp != nil && c.gitURL.Host == "github.com":
		token, err := c.githubApp.Token(ctx)
		if err != nil {
			return "", "", fmt.Errorf("unable to get github app token err:%w", err)
		}
		c.log.Debug("using github app access token")
		return "x-access-token", token, nil

	default:
		return "", "", nil
	}
}

func basicAuth(username, password string) *githttp.BasicAuth {
	return &githttp.BasicAuth{Username: username, Password: password}
}
