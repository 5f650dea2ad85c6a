// Package panel is the daemon's client for the control plane: token
// validation for inbound console sessions and unit configuration fetch for
// install jobs.
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/types"
)

const (
	// fetchAttempts and fetchBackoff implement the bounded retry for
	// config fetches: up to 3 attempts with linear backoff (1s × attempt).
	fetchAttempts = 3
	fetchBackoff  = time.Second

	requestTimeout = 10 * time.Second
)

// NodeInfo identifies the daemon host in a validation response.
type NodeInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	FQDN string `json:"fqdn"`
	Port int    `json:"port"`
}

// ServerInfo is the control plane's public view of a server.
type ServerInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	InternalID string   `json:"internalId"`
	Node       NodeInfo `json:"node"`
}

// ValidationResult is the response to a session token validation.
type ValidationResult struct {
	Validated bool       `json:"validated"`
	Server    ServerInfo `json:"server"`
}

// ServerConfig is the control plane's full server definition, fetched when
// an install job starts.
type ServerConfig struct {
	ID         string           `json:"id"`
	InternalID string           `json:"internalId"`
	Unit       types.Unit       `json:"unit"`
	Limits     types.Limits     `json:"limits"`
	Allocation types.Allocation `json:"allocation"`
}

// Client calls the control plane over HTTP.
type Client struct {
	base  string
	token string // daemon-to-panel bearer credential
	http  *http.Client
}

// New creates a Client for the given base URL and daemon token.
func New(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

// Validate checks a client-supplied token against the control plane for one
// server. Validation failures are final: the caller closes the connection
// with a denial code, no retry.
func (c *Client) Validate(ctx context.Context, internalID, token string) (*ValidationResult, error) {
	var result ValidationResult
	url := fmt.Sprintf("%s/servers/%s/validate", c.base, internalID)
	if err := c.get(ctx, url, token, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchConfig retrieves the server's unit configuration, retrying transient
// failures up to fetchAttempts times with linear backoff before giving up.
func (c *Client) FetchConfig(ctx context.Context, internalID string) (*ServerConfig, error) {
	logger := log.WithFunc("panel.FetchConfig")
	url := fmt.Sprintf("%s/servers/%s/config", c.base, internalID)

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		var conf ServerConfig
		if err := c.get(ctx, url, c.token, &conf); err != nil {
			lastErr = err
			logger.Warnf(ctx, "config fetch for %s failed (attempt %d/%d): %v", internalID, attempt, fetchAttempts, err)
			if attempt == fetchAttempts {
				break
			}
			select {
			case <-time.After(fetchBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		return &conf, nil
	}
	return nil, fmt.Errorf("fetch config for %s: %w", internalID, lastErr)
}

func (c *Client) get(ctx context.Context, url, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
