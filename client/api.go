package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"secure-room/configs"
)

// APIClient talks to the key directory and upload proxy with cookie session credentials
// and the anti-forgery token returned at login.
type APIClient struct {
	base *url.URL
	http *http.Client

	mu        sync.RWMutex
	csrfToken string
}

type credentialsRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	CSRFToken string `json:"csrf_token"`
}

func NewAPIClient(baseURL string) (*APIClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &APIClient{
		base: base,
		http: &http.Client{Jar: jar},
	}, nil
}

// Jar exposes the session cookies so the relay dialer can reuse them.
func (c *APIClient) Jar() http.CookieJar {
	return c.http.Jar
}

// Register creates an account for user on the server.
func (c *APIClient) Register(ctx context.Context, user, password string) error {
	if err := c.postJSON(ctx, configs.RegisterPath, credentialsRequest{User: user, Password: password}, nil, false); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	return nil
}

// Login opens a server session for user.
func (c *APIClient) Login(ctx context.Context, user, password string) error {
	var out loginResponse
	if err := c.postJSON(ctx, configs.SessionPath, credentialsRequest{User: user, Password: password}, &out, false); err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	c.mu.Lock()
	c.csrfToken = out.CSRFToken
	c.mu.Unlock()
	return nil
}

func (c *APIClient) token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.csrfToken == "" {
		return "", ErrNotLoggedIn
	}
	return c.csrfToken, nil
}

func (c *APIClient) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", ref, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

func (c *APIClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned non-OK status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *APIClient) postJSON(ctx context.Context, path string, in any, out any, withToken bool) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	target, err := c.resolve(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		token, err := c.token()
		if err != nil {
			return err
		}
		req.Header.Set(configs.CSRFHeaderName, token)
	}
	return c.do(req, out)
}

func (c *APIClient) getJSON(ctx context.Context, path string, out any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}
