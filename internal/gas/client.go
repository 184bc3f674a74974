// Package gas fetches the current network gas price from an Etherscan-style
// gas oracle endpoint.
package gas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable wraps every fetch failure (timeout, network, API error) so
// callers can treat "no price this cycle" uniformly.
var ErrUnavailable = errors.New("gas price unavailable")

// Price is one gas oracle reading, in gwei.
type Price struct {
	Safe    float64
	Propose float64
	Fast    float64
	At      time.Time
}

func (p Price) String() string {
	return fmt.Sprintf("safe %s / propose %s / fast %s gwei",
		trimFloat(p.Safe), trimFloat(p.Propose), trimFloat(p.Fast))
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gas: base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

// Current fetches the oracle's latest reading.
func (c *Client) Current(ctx context.Context) (Price, error) {
	q := url.Values{}
	q.Set("module", "gastracker")
	q.Set("action", "gasoracle")
	if c.cfg.APIKey != "" {
		q.Set("apikey", c.cfg.APIKey)
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/api?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Price{}, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  struct {
			SafeGasPrice    string `json:"SafeGasPrice"`
			ProposeGasPrice string `json:"ProposeGasPrice"`
			FastGasPrice    string `json:"FastGasPrice"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Price{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if out.Status != "1" {
		return Price{}, fmt.Errorf("%w: api status %q (%s)", ErrUnavailable, out.Status, out.Message)
	}

	p := Price{At: time.Now()}
	if p.Safe, err = strconv.ParseFloat(out.Result.SafeGasPrice, 64); err != nil {
		return Price{}, fmt.Errorf("%w: bad safe price %q", ErrUnavailable, out.Result.SafeGasPrice)
	}
	if p.Propose, err = strconv.ParseFloat(out.Result.ProposeGasPrice, 64); err != nil {
		return Price{}, fmt.Errorf("%w: bad propose price %q", ErrUnavailable, out.Result.ProposeGasPrice)
	}
	if p.Fast, err = strconv.ParseFloat(out.Result.FastGasPrice, 64); err != nil {
		return Price{}, fmt.Errorf("%w: bad fast price %q", ErrUnavailable, out.Result.FastGasPrice)
	}
	return p, nil
}
