package vcs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), key
}

func TestInstallationTokenMintAndCache(t *testing.T) {
	keyPEM, key := testKeyPEM(t)

	mints := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/app/installations/77/access_tokens", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		// The app JWT must verify against the app's key and name the app.
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		claims := token.Claims.(*jwt.RegisteredClaims)
		assert.Equal(t, "12345", claims.Issuer)

		mints++
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_installation",
			"expires_at": time.Now().Add(time.Hour),
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		AppID:          "12345",
		InstallationID: "77",
		PrivateKeyPEM:  keyPEM,
	})
	require.NoError(t, err)

	tok, err := c.InstallationToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", tok)

	// Second call hits the cache, not the API.
	tok, err = c.InstallationToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", tok)
	assert.Equal(t, 1, mints)
}

func TestInstallationTokenRefreshNearExpiry(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	mints := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints++
		json.NewEncoder(w).Encode(map[string]any{
			"token": "ghs_installation",
			// Inside the refresh slack, so the cache never serves it.
			"expires_at": time.Now().Add(30 * time.Second),
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AppID: "12345", InstallationID: "77", PrivateKeyPEM: keyPEM})
	require.NoError(t, err)

	_, err = c.InstallationToken(context.Background())
	require.NoError(t, err)
	_, err = c.InstallationToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, mints)
}

func TestOpenPullRequest(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	var prReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/77/access_tokens":
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_tok",
				"expires_at": time.Now().Add(time.Hour),
			})
		case "/repos/acme/app/pulls":
			assert.Equal(t, "token ghs_tok", r.Header.Get("Authorization"))
			json.NewDecoder(r.Body).Decode(&prReq)
			json.NewEncoder(w).Encode(map[string]any{"number": 42})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AppID: "12345", InstallationID: "77", PrivateKeyPEM: keyPEM})
	require.NoError(t, err)

	number, err := c.OpenPullRequest(context.Background(), "acme/app", "Add auth", "session-s1", "main", "body text")
	require.NoError(t, err)
	assert.Equal(t, 42, number)
	assert.Equal(t, "Add auth", prReq["title"])
	assert.Equal(t, "session-s1", prReq["head"])
	assert.Equal(t, "main", prReq["base"])
}

func TestCreateRepo(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	var repoReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/77/access_tokens":
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_tok",
				"expires_at": time.Now().Add(time.Hour),
			})
		case "/orgs/acme/repos":
			json.NewDecoder(r.Body).Decode(&repoReq)
			json.NewEncoder(w).Encode(map[string]any{
				"full_name": "acme/app",
				"clone_url": "https://git.example.com/acme/app.git",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AppID: "12345", InstallationID: "77", PrivateKeyPEM: keyPEM})
	require.NoError(t, err)

	cloneURL, err := c.CreateRepo(context.Background(), "acme", "app", true)
	require.NoError(t, err)
	assert.Equal(t, "https://git.example.com/acme/app.git", cloneURL)
	assert.Equal(t, "app", repoReq["name"])
	assert.Equal(t, true, repoReq["private"])
}

func TestUpdatePullRequestState(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	var stateReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/77/access_tokens":
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_tok",
				"expires_at": time.Now().Add(time.Hour),
			})
		case "/repos/acme/app/pulls/42":
			assert.Equal(t, http.MethodPatch, r.Method)
			json.NewDecoder(r.Body).Decode(&stateReq)
			json.NewEncoder(w).Encode(map[string]any{"number": 42})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AppID: "12345", InstallationID: "77", PrivateKeyPEM: keyPEM})
	require.NoError(t, err)

	require.NoError(t, c.UpdatePullRequestState(context.Background(), "acme/app", 42, "closed"))
	assert.Equal(t, "closed", stateReq["state"])
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Validation Failed"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AppID: "12345", InstallationID: "77", PrivateKeyPEM: keyPEM})
	require.NoError(t, err)

	_, err = c.InstallationToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "Validation Failed")
}

func TestNewClientRejectsBadKey(t *testing.T) {
	_, err := NewClient(Config{PrivateKeyPEM: []byte("not a key")})
	assert.Error(t, err)
}
