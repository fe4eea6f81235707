// Package codeassist is the HTTP client for the Gemini Code Assist API.
package codeassist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/bnema/gemini-pool/internal/ports"
)

const (
	DefaultBaseURL    = "https://cloudcode-pa.googleapis.com"
	DefaultAPIVersion = "v1internal"

	maxErrorBodyBytes     = 64 << 10
	maxOperationBodyBytes = 1 << 20
)

type Options struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	apiVersion string
	http       *http.Client
}

var _ ports.Upstream = (*Client)(nil)

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	apiVersion := strings.Trim(strings.TrimSpace(opts.APIVersion), "/")
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Client{baseURL: baseURL, apiVersion: apiVersion, http: client}
}

// HTTPClient exposes the pooled client so token refreshes share it.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Call posts body to {base}/{version}:{method}. On success the caller
// owns the returned body.
func (c *Client) Call(ctx context.Context, accessToken, method string, body []byte) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/%s:%s", c.baseURL, c.apiVersion, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, accessToken)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return resp.Body, nil
}

// GetOperation fetches a long-running operation by name.
func (c *Client) GetOperation(ctx context.Context, accessToken, name string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, strings.TrimLeft(name, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create operation request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOperationBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read operation %s: %w", name, err)
	}
	return data, nil
}

// CloseIdleConnections releases pooled keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func (c *Client) do(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	return resp, nil
}
