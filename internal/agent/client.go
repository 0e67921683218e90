// Package agent is the client for the remote agent API. The endpoint is
// opaque to us: we POST the transcript and read back a single response
// string.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/models"
)

// DefaultPath is the current agent endpoint. Earlier deployments exposed
// "/chat" instead; the path is configurable for those.
const DefaultPath = "/agent"

type request struct {
	Messages []models.Turn `json:"messages"`
}

type response struct {
	Response string `json:"response"`
}

type Client struct {
	httpClient *http.Client
	host       string
	path       string
	logger     *zap.Logger
}

func NewClient(host, path string, logger *zap.Logger) *Client {
	if path == "" {
		path = DefaultPath
	}
	return &Client{
		httpClient: &http.Client{},
		host:       host,
		path:       path,
		logger:     logger,
	}
}

// Send posts the full transcript with the bearer credential attached and
// returns the agent's reply. Any non-2xx status is a failure; a 401 is
// logged for diagnostics but not treated differently.
func (c *Client) Send(ctx context.Context, token string, turns []models.Turn) (string, error) {
	body, err := json.Marshal(request{Messages: turns})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+c.path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.logger.Error("Unauthorized: check API permissions or token validity")
		} else {
			c.logger.Error("Agent API responded with error", zap.Int("status", resp.StatusCode))
		}
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("agent request failed with status %d", resp.StatusCode)
	}

	var reply response
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}

	return reply.Response, nil
}
