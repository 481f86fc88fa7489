package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
	"github.com/cleanflow/cleanflow/pkg/models"
)

// RemoteClassifier labels values through an external HTTP classification
// service. The API key comes from the registry's key resolution, so a
// tenant-supplied key takes priority over the system fallback.
type RemoteClassifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoteClassifier creates a classifier client for an endpoint.
func NewRemoteClassifier(endpoint, apiKey string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteClassifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Values []string `json:"values"`
}

type classifyResponse struct {
	Labels []string `json:"labels"`
	Error  string   `json:"error,omitempty"`
}

// Classify posts the values and returns the service's labels.
func (c *RemoteClassifier) Classify(ctx context.Context, values []string) ([]string, error) {
	body, err := json.Marshal(classifyRequest{Values: values})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode classification response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("classification service returned %d: %s", resp.StatusCode, msg)
	}

	if len(out.Labels) != len(values) {
		return nil, fmt.Errorf("classification service returned %d labels for %d values",
			len(out.Labels), len(values))
	}
	return out.Labels, nil
}

// Close is a no-op; the HTTP client holds no persistent connections worth
// tearing down eagerly.
func (c *RemoteClassifier) Close() error {
	return nil
}

// RemoteConstructor adapts an endpoint into a registry constructor. An empty
// API key fails construction up front instead of at first classify call.
func RemoteConstructor(endpoint string, timeout time.Duration) models.Constructor {
	return func(ctx context.Context, opts models.Options) (interface{}, error) {
		if opts.APIKey == "" {
			return nil, cferr.New(cferr.CodeModelConstruct, "no API key available for remote classifier").
				WithContext("tenant", opts.Tenant).
				WithContext("kind", opts.Kind)
		}
		return NewRemoteClassifier(endpoint, opts.APIKey, timeout), nil
	}
}
