// Package profile talks to the downstream browser-profile provisioning API.
// The bot only submits requests; provisioning itself happens on the API side.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// OpenRequest asks the API to open an existing profile at a start URL.
type OpenRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateRequest asks the API to provision new profiles.
type CreateRequest struct {
	Count   int      `json:"count"`
	AppID   string   `json:"app_id"`
	Proxies []string `json:"proxies"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("profile: base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

// Exists reports whether a profile with the given id is known to the API.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode/100 == 2:
		return true, nil
	default:
		return false, apiError(resp)
	}
}

// Open submits an open-profile request. Not retried here; the caller decides
// how a failure is surfaced.
func (c *Client) Open(ctx context.Context, r OpenRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/profiles/open", r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return apiError(resp)
	}
	return nil
}

// Create submits a create-profiles request.
func (c *Client) Create(ctx context.Context, r CreateRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/profiles", r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return apiError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	return c.http.Do(req)
}

func apiError(resp *http.Response) error {
	var out struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	msg := out.Error
	if msg == "" {
		msg = out.Message
	}
	if msg != "" {
		return fmt.Errorf("profile api: %s (http %d)", msg, resp.StatusCode)
	}
	return fmt.Errorf("profile api: http %d", resp.StatusCode)
}
