// Package auth mints GitHub App installation tokens which can be used as
// password for HTTPS git remotes.
package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	defaultGithubAPI = "https://api.github.com"

	// tokens are refreshed when they are about to expire in this window
	tokenRefreshWindow = 10 * time.Minute
)

type GithubAppTokenReqPermissions struct {
	Repositories []string          `json:"repositories,omitempty"`
	Permissions  map[string]string `json:"permissions"`
}

type GithubAppToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GithubApp holds GitHub App details and caches the last installation
// token. It is safe for concurrent use.
type GithubApp struct {
	AppID          string
	InstallationID string
	PrivateKeyPath string
	// Repositories limits the token to the given repository names
	Repositories []string
	// APIURL defaults to https://api.github.com
	APIURL string
	Client *http.Client

	mu    sync.Mutex
	token *GithubAppToken
}

// Token returns a valid installation token with read access to contents.
// cached token is returned if it is valid for at least next 10 min.
func (g *GithubApp) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != nil && g.token.ExpiresAt.After(time.Now().UTC().Add(tokenRefreshWindow)) {
		return g.token.Token, nil
	}

	permissions := GithubAppTokenReqPermissions{
		Repositories: g.Repositories,
		Permissions:  map[string]string{"contents": "read"},
	}

	token, err := g.installationToken(ctx, permissions)
	if err != nil {
		return "", err
	}
	g.token = token

	return token.Token, nil
}

func (g *GithubApp) installationToken(ctx context.Context, reqPerms GithubAppTokenReqPermissions) (*GithubAppToken, error) {
	privatePEMData, err := os.ReadFile(g.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := parsePrivateKey(privatePEMData)
	if err != nil {
		return nil, err
	}

	jwtToken, err := signAppJWT(g.AppID, privateKey, time.Now())
	if err != nil {
		return nil, fmt.Errorf("unable to sign app jwt err:%w", err)
	}

	reqBody, err := json.Marshal(reqPerms)
	if err != nil {
		return nil, err
	}

	api := g.APIURL
	if api == "" {
		api = defaultGithubAPI
	}
	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", strings.TrimRight(api, "/"), g.InstallationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		errMessage, err := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub app token response status %d, body:%q  err:%w", resp.StatusCode, errMessage, err)
	}

	var tokenResponse GithubAppToken
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, err
	}

	return &tokenResponse, nil
}

func signAppJWT(appID string, key *rsa.PrivateKey, now time.Time) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	if err != nil {
		return "", err
	}

	cl := jwt.Claims{
		// GitHub App's ID or client ID
		Issuer: appID,
		// issued at time, 60 seconds in the past to allow for clock drift
		IssuedAt: jwt.NewNumericDate(now.Add(-60 * time.Second)),
		// JWT expiration time (10 minute maximum)
		Expiry: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}

	return jwt.Signed(signer).Claims(cl).Serialize()
}

// parsePrivateKey accepts both PKCS1 keys as downloaded from GitHub
// and PKCS8 wrapped RSA keys
func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not an RSA key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}
