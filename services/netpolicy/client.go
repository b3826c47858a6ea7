package netpolicy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// Config carries the policy service endpoints and credentials.
type Config struct {
	BaseURL   string `env:"NETPOLICY_URL,required"`
	ProjectID string `env:"NETPOLICY_PROJECT_ID,required"`
	ClusterID string `env:"NETPOLICY_CLUSTER_ID,required"`
	User      string `env:"NETPOLICY_USER,required"`
	Password  string `env:"NETPOLICY_PASSWORD,required"`
}

// Resolver maps a hostname to its addresses. It exists so tests can avoid DNS.
type Resolver func(ctx context.Context, host string) ([]string, error)

// Client checks the policy service for an egress rule matching a host.
type Client struct {
	cfg     Config
	http    *http.Client
	resolve Resolver
}

// NewClient creates a Client. httpClient and resolver may be nil, in which
// case sensible defaults are used.
func NewClient(cfg Config, httpClient *http.Client, resolver Resolver) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("netpolicy base URL is required")
	}
	if cfg.User == "" || cfg.Password == "" {
		return nil, errors.New("netpolicy credentials are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	if resolver == nil {
		resolver = func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		}
	}
	return &Client{cfg: cfg, http: httpClient, resolve: resolver}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type egressRule struct {
	DestinationIP string `json:"destination_ip"`
}

type egressResponse struct {
	Egress []egressRule `json:"egress"`
}

// CheckEgress reports whether an egress rule exists for any of the host's
// resolved addresses.
func (c *Client) CheckEgress(ctx context.Context, host string) (bool, error) {
	addrs, err := c.resolve(ctx, host)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return false, fmt.Errorf("no addresses for %s", host)
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return false, err
	}

	rules, err := c.fetchEgressRules(ctx, token)
	if err != nil {
		return false, err
	}

	wanted := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		wanted[addr] = struct{}{}
	}
	for _, rule := range rules {
		if _, ok := wanted[rule.DestinationIP]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/identity/token", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	apiKey := base64.StdEncoding.EncodeToString([]byte(c.cfg.User + ":" + c.cfg.Password))
	req.Header.Set("x-api-key", apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: unexpected status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	return body.AccessToken, nil
}

func (c *Client) fetchEgressRules(ctx context.Context, token string) ([]egressRule, error) {
	url := fmt.Sprintf("%s/firewall/flows/%s/%s", c.cfg.BaseURL, c.cfg.ProjectID, c.cfg.ClusterID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("egress rules request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("egress rules request: unexpected status %d", resp.StatusCode)
	}

	var body egressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode egress rules: %w", err)
	}
	return body.Egress, nil
}
