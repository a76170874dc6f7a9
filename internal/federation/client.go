package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// peerClient is a lightweight HTTP client for querying one federated registry.
type peerClient struct {
	http *http.Client
}

func newPeerClient(timeout time.Duration) *peerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &peerClient{http: &http.Client{Timeout: timeout}}
}

// Search issues GET {registryURL}/api/v1/agent-cards with the peer's API key
// and the given capability filters, returning the raw agent-card objects.
func (c *peerClient) Search(ctx context.Context, registryURL, apiKey string, filters map[string]string) ([]map[string]any, error) {
	u, err := url.Parse(registryURL + "/api/v1/agent-cards")
	if err != nil {
		return nil, fmt.Errorf("build peer search URL: %w", err)
	}
	q := u.Query()
	for k, v := range filters {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build peer search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query peer %s: %w", registryURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned status %d", registryURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read peer search response: %w", err)
	}

	var payload struct {
		Agents []map[string]any `json:"agents"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode peer search response: %w", err)
	}
	return payload.Agents, nil
}

// probeHealth issues GET {registryURL}/health and reports whether it
// responded 2xx within timeout, and how long it took.
func (c *peerClient) probeHealth(ctx context.Context, registryURL string, timeout time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL+"/health", nil)
	if err != nil {
		return false, 0, fmt.Errorf("build health probe request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return false, elapsed, err
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.StatusCode >= 200 && resp.StatusCode < 300, elapsed, nil
}
