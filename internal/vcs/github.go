package vcs

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client talks to a GitHub-style hosting API as an installed app. Installation
// tokens are minted on demand by exchanging a short-lived app JWT and cached
// until shortly before expiry.
type Client struct {
	baseURL        string
	appID          string
	installationID string
	key            *rsa.PrivateKey
	http           *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Config for the hosting API client.
type Config struct {
	BaseURL        string // e.g. https://api.github.com
	AppID          string
	InstallationID string
	PrivateKeyPEM  []byte
}

func NewClient(cfg Config) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		key:            key,
		http:           &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// appJWT signs a short-lived JWT identifying the app itself.
func (c *Client) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
}

// InstallationToken returns a credential scoped to the installation.
func (c *Client) InstallationToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	appJWT, err := c.appJWT()
	if err != nil {
		return "", fmt.Errorf("sign app JWT: %w", err)
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := fmt.Sprintf("/app/installations/%s/access_tokens", c.installationID)
	if err := c.do(ctx, http.MethodPost, path, "Bearer "+appJWT, nil, &result); err != nil {
		return "", fmt.Errorf("mint installation token: %w", err)
	}

	c.token = result.Token
	c.tokenExpiry = result.ExpiresAt
	return c.token, nil
}

// CreateRepo creates a repository under the given org.
func (c *Client) CreateRepo(ctx context.Context, org, name string, private bool) (string, error) {
	token, err := c.InstallationToken(ctx)
	if err != nil {
		return "", err
	}
	body := map[string]any{"name": name, "private": private}
	var result struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/orgs/"+org+"/repos", "token "+token, body, &result); err != nil {
		return "", fmt.Errorf("create repo %s/%s: %w", org, name, err)
	}
	return result.CloneURL, nil
}

// OpenPullRequest opens a PR and returns its number.
func (c *Client) OpenPullRequest(ctx context.Context, repo, title, head, base, prBody string) (int, error) {
	token, err := c.InstallationToken(ctx)
	if err != nil {
		return 0, err
	}
	body := map[string]any{"title": title, "head": head, "base": base, "body": prBody}
	var result struct {
		Number int `json:"number"`
	}
	if err := c.do(ctx, http.MethodPost, "/repos/"+repo+"/pulls", "token "+token, body, &result); err != nil {
		return 0, fmt.Errorf("open pull request on %s: %w", repo, err)
	}
	return result.Number, nil
}

// UpdatePullRequestState opens or closes an existing PR ("open"/"closed").
func (c *Client) UpdatePullRequestState(ctx context.Context, repo string, number int, state string) error {
	token, err := c.InstallationToken(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{"state": state}
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo, number)
	if err := c.do(ctx, http.MethodPatch, path, "token "+token, body, nil); err != nil {
		return fmt.Errorf("update pull request %s#%d: %w", repo, number, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, auth string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
