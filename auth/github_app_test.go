package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/go-cmp/cmp"
)

func mustWriteKey(t *testing.T, blockType string) (string, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("unable to generate key err:%v", err)
	}

	var der []byte
	switch blockType {
	case "RSA PRIVATE KEY":
		der = x509.MarshalPKCS1PrivateKey(key)
	case "PRIVATE KEY":
		der, err = x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("unable to marshal key err:%v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("unable to write key err:%v", err)
	}
	return path, key
}

func TestGithubApp_Token(t *testing.T) {
	keyPath, key := mustWriteKey(t, "RSA PRIVATE KEY")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Method != http.MethodPost || r.URL.Path != "/app/installations/456/access_tokens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
		if err != nil {
			t.Errorf("unable to parse jwt err:%v", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var claims jwt.Claims
		if err := tok.Claims(&key.PublicKey, &claims); err != nil {
			t.Errorf("unable to verify jwt err:%v", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if claims.Issuer != "123" {
			t.Errorf("unexpected issuer %q", claims.Issuer)
		}

		var perms GithubAppTokenReqPermissions
		if err := json.NewDecoder(r.Body).Decode(&perms); err != nil {
			t.Errorf("unable to decode body err:%v", err)
		}
		want := GithubAppTokenReqPermissions{
			Repositories: []string{"EIPs"},
			Permissions:  map[string]string{"contents": "read"},
		}
		if diff := cmp.Diff(want, perms); diff != "" {
			t.Errorf("permissions mismatch (-want +got):\n%s", diff)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(GithubAppToken{Token: "ghs_test", ExpiresAt: time.Now().Add(time.Hour)})
	}))
	defer server.Close()

	app := &GithubApp{
		AppID:          "123",
		InstallationID: "456",
		PrivateKeyPath: keyPath,
		Repositories:   []string{"EIPs"},
		APIURL:         server.URL,
	}

	for range 3 {
		got, err := app.Token(t.Context())
		if err != nil {
			t.Fatalf("Token() unexpected error: %v", err)
		}
		if got != "ghs_test" {
			t.Errorf("Token() = %q, want %q", got, "ghs_test")
		}
	}

	// token is valid for an hour so it must be cached
	if got := calls.Load(); got != 1 {
		t.Errorf("expected single token request got %d", got)
	}
}

func TestGithubApp_Token_error(t *testing.T) {
	keyPath, _ := mustWriteKey(t, "PRIVATE KEY")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"nope"}`))
	}))
	defer server.Close()

	app := &GithubApp{AppID: "1", InstallationID: "2", PrivateKeyPath: keyPath, APIURL: server.URL}
	_, err := app.Token(t.Context())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Token() expected status error got:%v", err)
	}

	app.PrivateKeyPath = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := app.Token(t.Context()); err == nil {
		t.Errorf("Token() expected error for missing key")
	}
}

func TestParsePrivateKey(t *testing.T) {
	for _, blockType := range []string{"RSA PRIVATE KEY", "PRIVATE KEY"} {
		t.Run(blockType, func(t *testing.T) {
			path, key := mustWriteKey(t, blockType)
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			got, err := parsePrivateKey(data)
			if err != nil {
				t.Fatalf("parsePrivateKey() unexpected error: %v", err)
			}
			if !got.Equal(key) {
				t.Errorf("parsePrivateKey() returned different key")
			}
		})
	}

	if _, err := parsePrivateKey([]byte("not a pem")); err == nil {
		t.Errorf("parsePrivateKey() expected error for invalid data")
	}
}
