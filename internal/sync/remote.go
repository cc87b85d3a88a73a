package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lapakku/backend/internal/domain"
)

// TokenFunc supplies the bearer token for remote calls.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken adapts a fixed API token to a TokenFunc.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Client talks to the remote sync backend. The wire contract is one POST
// per envelope; the response carries a status per change entry.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
}

func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// HealthURL is the endpoint the connectivity monitor probes.
func (c *Client) HealthURL() string {
	return c.baseURL + "/healthz"
}

func (c *Client) PushChanges(ctx context.Context, envelope domain.PushEnvelope) (*domain.PushResult, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sync/changes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push envelope %s: %w", envelope.EnvelopeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("push envelope %s: remote returned %d", envelope.EnvelopeID, resp.StatusCode)
	}

	var result domain.PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode push result: %w", err)
	}
	return &result, nil
}
