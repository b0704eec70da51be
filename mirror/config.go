package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultRemote is the proposals repository mirrored when no remote is configured
	DefaultRemote = "https://github.com/ethereum/EIPs.git"
	// DefaultMaxAttempts is the number of clone attempts before giving up
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait after the first failed clone attempt,
	// it doubles after every following failure
	DefaultBaseDelay = 1000 * time.Millisecond
)

// Config represents the config for the mirrored repository
type Config struct {
	// git URL of the remote repo to mirror
	Remote string `yaml:"remote"`

	// Root is the absolute path to the dir where the working copy dir
	// will be created. os temp dir is used if not set
	Root string `yaml:"root"`

	// MaxAttempts is the number of clone attempts on initialize
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the backoff before 2nd clone attempt, every following
	// backoff is doubled
	BaseDelay time.Duration `yaml:"base_delay"`

	// Auth config to fetch private remote repos over https
	Auth Auth `yaml:"auth"`
}

// Auth represents authentication config of the repository
type Auth struct {
	// username to use for basic or token based authentication
	Username string `yaml:"username"`

	// password or personal access token to use for authentication
	Password string `yaml:"password"`

	// Github APP Details
	// The application id or the client ID of the Github app
	GithubAppID string `yaml:"github_app_id"`
	// The installation id of the app (in the organization).
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	// path to the github app private key
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// ApplyDefaults sets default values for all unset fields
func (c *Config) ApplyDefaults() {
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
	if c.Root == "" {
		c.Root = filepath.Join(os.TempDir(), "proposal-mirror")
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
}

// Validate verifies config, ApplyDefaults should be called first
func (c *Config) Validate() error {
	var errs []error

	if _, err := parseRemote(c.Remote); err != nil {
		errs = append(errs, err)
	}

	if !filepath.IsAbs(c.Root) {
		errs = append(errs, fmt.Errorf("repository root '%s' must be absolute", c.Root))
	}

	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1 got %d", c.MaxAttempts))
	}

	if c.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base_delay cannot be negative"))
	}

	if c.Auth.GithubAppID != "" || c.Auth.GithubAppInstallationID != "" || c.Auth.GithubAppPrivateKeyPath != "" {
		if c.Auth.GithubAppID == "" || c.Auth.GithubAppInstallationID == "" || c.Auth.GithubAppPrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("github_app_id, github_app_installation_id and github_app_private_key_path are all required for github app auth"))
		}
	}

	return errors.Join(errs...)
}
