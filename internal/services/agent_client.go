package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"agent-orchestrator/backend/pkg/models"
)

// HTTPAgentClient invokes agents hosted by an HTTP agent runtime.
type HTTPAgentClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAgentClient creates a new HTTPAgentClient. timeout bounds each
// request in addition to any deadline on the caller's context.
func NewHTTPAgentClient(baseURL string, timeout time.Duration) *HTTPAgentClient {
	return &HTTPAgentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke posts req to {baseURL}/agents/{agentID}/execute.
func (c *HTTPAgentClient) Invoke(ctx context.Context, agentID string, req models.AgentRequest) (*models.AgentResponse, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := c.baseURL + "/agents/" + url.PathEscape(agentID) + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent %s returned status code %d: %s", agentID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out models.AgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if out.AgentID == "" {
		out.AgentID = agentID
	}
	return &out, nil
}
